package store

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/fphillips/hal-imagegen/internal/log"
	"github.com/samber/lo"
)

type objectPutter interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader mirrors uploads into Bucket under Prefix. UploadParams.Dir is
// ignored.
type S3Uploader struct {
	Client objectPutter
	Bucket string
	Prefix string
}

func (u *S3Uploader) Upload(ctx context.Context, params UploadParams) error {
	key := path.Join(u.Prefix, params.Name)
	logger := log.FromContextOrDiscard(ctx).WithGroup("s3").With("bucket", u.Bucket, "key", key)
	logger.Info("mirroring image", "bytes", len(params.Data))

	_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(u.Bucket),
		Key:               aws.String(key),
		ContentType:       aws.String(params.ContentType),
		Body:              bytes.NewReader(params.Data),
		Metadata:          params.Metadata,
		StorageClass:      s3types.StorageClassIntelligentTiering,
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
	})
	if err != nil {
		return fmt.Errorf("mirroring %s to s3://%s: %w", params.Name, u.Bucket, err)
	}
	return nil
}

type invalidationCreator interface {
	CreateInvalidation(context.Context, *cloudfront.CreateInvalidationInput, ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// CloudFrontInvalidator evicts freshly written images from the CDN so an
// image regenerated within the same second is not served stale.
type CloudFrontInvalidator struct {
	Client       invalidationCreator
	Distribution string
	now          func() time.Time
}

// callerReference names an invalidation after the image it evicts. The
// clock suffix keeps a repeated run within the same second from being
// deduplicated by CloudFront.
func (i *CloudFrontInvalidator) callerReference(paths []string) string {
	now := lo.Ternary(i.now != nil, i.now, time.Now)
	name := strings.TrimSuffix(path.Base(paths[0]), path.Ext(paths[0]))
	return fmt.Sprintf("%s-%d", name, now().UnixNano())
}

func (i *CloudFrontInvalidator) Invalidate(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	ref := i.callerReference(paths)
	logger := log.FromContextOrDiscard(ctx).WithGroup("cloudfront").With("paths", paths, "distribution", i.Distribution, "reference", ref)
	logger.Info("invalidating image paths")

	out, err := i.Client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.Distribution),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(ref),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("invalidating %s: %w", strings.Join(paths, ","), err)
	}
	if out != nil && out.Invalidation != nil {
		logger.Debug("invalidation created", "id", aws.ToString(out.Invalidation.Id))
	}
	return nil
}
