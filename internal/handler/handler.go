package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"path/filepath"
	"time"

	"github.com/fphillips/hal-imagegen/internal/diffusion"
	"github.com/fphillips/hal-imagegen/internal/log"
	"github.com/fphillips/hal-imagegen/internal/store"
	"github.com/samber/do"
)

const (
	WebPrefix = "/generated-images/"

	steps    = 25
	guidance = 7.5
	size     = 512
)

type Input struct {
	Prompt    string `json:"prompt"`
	OutputDir string `json:"output_dir,omitempty"`
}

// Output is either a success carrying both paths or a failure carrying only
// the error message.
type Output struct {
	Success   bool   `json:"success"`
	ImagePath string `json:"image_path,omitempty"`
	FullPath  string `json:"full_path,omitempty"`
	Error     string `json:"error,omitempty"`
}

func Failure(err error) Output {
	msg := err.Error()
	if msg == "" {
		msg = "unknown error"
	}
	return Output{Error: msg}
}

// Filename derives the image name from t at second resolution.
func Filename(t time.Time) string {
	return "img_" + t.Format("20060102_150405") + ".png"
}

type Handler struct {
	selector    diffusion.DeviceSelector
	loader      diffusion.Loader
	uploader    store.Uploader
	invalidator store.Invalidator
	model       string
	outputDir   string
	now         func() time.Time
}

func NewHandler(i *do.Injector) (*Handler, error) {
	return &Handler{
		selector:    do.MustInvoke[diffusion.DeviceSelector](i),
		loader:      do.MustInvoke[diffusion.Loader](i),
		uploader:    do.MustInvoke[store.Uploader](i),
		invalidator: do.MustInvoke[store.Invalidator](i),
		model:       do.MustInvokeNamed[string](i, "model"),
		outputDir:   do.MustInvokeNamed[string](i, "output_dir"),
		now:         time.Now,
	}, nil
}

func (h *Handler) Handle(ctx context.Context, input Input) (Output, error) {
	if input.OutputDir == "" {
		input.OutputDir = h.outputDir
	}
	log := log.FromContextOrDiscard(ctx).WithGroup("Handler").With("input", input)
	log.Info("handling generation request")

	device, err := h.selector.Select(ctx)
	if err != nil {
		return Output{}, wrap(KindDeviceUnavailable, err)
	}

	pipe, err := h.loader.Load(ctx, diffusion.LoadParams{
		Model:            h.model,
		Device:           device,
		Precision:        diffusion.Float16,
		SafetyChecker:    false,
		AttentionSlicing: true,
		Guidance:         guidance,
	})
	if err != nil {
		return Output{}, wrap(KindModelLoad, err)
	}

	img, err := pipe.Infer(ctx, diffusion.InferParams{
		Prompt:   input.Prompt,
		Steps:    steps,
		Guidance: guidance,
		Width:    size,
		Height:   size,
	})
	if err != nil {
		return Output{}, wrap(KindInference, err)
	}
	if img == nil {
		return Output{}, wrap(KindInference, errors.New("pipeline returned no image"))
	}
	log.Info("inference finished", "bounds", img.Bounds().String())

	name := Filename(h.now())
	fullPath, err := filepath.Abs(filepath.Join(input.OutputDir, name))
	if err != nil {
		return Output{}, wrap(KindIO, err)
	}

	var data bytes.Buffer
	if err := png.Encode(&data, img); err != nil {
		return Output{}, wrap(KindIO, fmt.Errorf("encoding png: %w", err))
	}

	err = h.uploader.Upload(ctx, store.UploadParams{
		Dir:         filepath.Dir(fullPath),
		Name:        name,
		Data:        data.Bytes(),
		ContentType: "image/png",
		Metadata:    map[string]string{"prompt": input.Prompt, "model": h.model},
	})
	if err != nil {
		return Output{}, wrap(KindIO, err)
	}

	imagePath := WebPrefix + name
	if err := h.invalidator.Invalidate(ctx, []string{imagePath}); err != nil {
		return Output{}, wrap(KindIO, err)
	}

	return Output{Success: true, ImagePath: imagePath, FullPath: fullPath}, nil
}
