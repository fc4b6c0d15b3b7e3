package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fphillips/hal-imagegen/internal/log"
)

type UploadParams struct {
	Dir         string
	Name        string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

// FileUploader writes into UploadParams.Dir, which must already exist.
// Existing files are overwritten.
type FileUploader struct{}

func (*FileUploader) Upload(ctx context.Context, params UploadParams) error {
	file := filepath.Join(params.Dir, params.Name)
	log.FromContextOrDiscard(ctx).WithGroup("file").Info("writing", "file", file, "bytes", len(params.Data))
	return os.WriteFile(file, params.Data, 0644)
}

// MultiUploader runs uploaders in order and stops at the first failure.
type MultiUploader []Uploader

func (m MultiUploader) Upload(ctx context.Context, params UploadParams) error {
	for _, u := range m {
		if err := u.Upload(ctx, params); err != nil {
			return err
		}
	}
	return nil
}
