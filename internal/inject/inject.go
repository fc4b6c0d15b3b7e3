package inject

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/fphillips/hal-imagegen/internal/diffusion"
	"github.com/fphillips/hal-imagegen/internal/handler"
	"github.com/fphillips/hal-imagegen/internal/log"
	"github.com/fphillips/hal-imagegen/internal/param"
	"github.com/fphillips/hal-imagegen/internal/store"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const (
	DefaultOutputDir = "/srv/hal/public/generated-images"
	DefaultModel     = "runwayml/stable-diffusion-v1-5"
	DefaultLocalAI   = "http://localhost:8080/v1/"
)

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	return lo.Ternary(v != "", v, fallback)
}

func Setup(ctx context.Context) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return config.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	do.ProvideNamedValue[string](injector, "output_dir", getenv("HAL_OUTPUT_DIR", DefaultOutputDir))
	do.ProvideNamedValue[string](injector, "model", DefaultModel)
	do.ProvideNamedValue[string](injector, "backend", getenv("HAL_BACKEND", "localai"))
	do.ProvideNamedValue[string](injector, "bucket", os.Getenv("HAL_BUCKET"))
	do.ProvideNamedValue[string](injector, "distribution", os.Getenv("HAL_DISTRIBUTION"))

	do.Provide[param.Fetcher](injector, func(i *do.Injector) (param.Fetcher, error) {
		switch source := getenv("HAL_PARAM_SOURCE", "env"); source {
		case "env":
			return param.EnvFetcher{}, nil
		case "ssm":
			return param.NewParameterStoreFetcher(i)
		default:
			return nil, fmt.Errorf("unknown parameter source %q", source)
		}
	})
	do.ProvideNamed[string](injector, "dezgo_key", func(i *do.Injector) (string, error) {
		return do.MustInvoke[param.Fetcher](i).Fetch(ctx, getenv("HAL_DEZGO_KEY_PARAM", "DEZGO_KEY"))
	})
	do.ProvideNamed[string](injector, "localai_key", func(i *do.Injector) (string, error) {
		name := os.Getenv("HAL_LOCALAI_KEY_PARAM")
		if name == "" {
			return "", nil
		}
		return do.MustInvoke[param.Fetcher](i).Fetch(ctx, name)
	})
	do.Provide[*openai.Client](injector, func(i *do.Injector) (*openai.Client, error) {
		key, err := do.InvokeNamed[string](i, "localai_key")
		if err != nil {
			return nil, err
		}
		client := openai.NewClient(
			option.WithBaseURL(getenv("HAL_LOCALAI_URL", DefaultLocalAI)),
			option.WithAPIKey(key),
			option.WithHTTPClient(do.MustInvoke[*http.Client](i)),
			option.WithMaxRetries(0),
		)
		return &client, nil
	})

	do.Provide[diffusion.DeviceSelector](injector, func(i *do.Injector) (diffusion.DeviceSelector, error) {
		if device := os.Getenv("HAL_DEVICE"); device != "" {
			return diffusion.StaticDevice(device), nil
		}
		if do.MustInvokeNamed[string](i, "backend") == "dezgo" {
			return diffusion.StaticDevice("remote"), nil
		}
		return diffusion.NewGPUSelector(), nil
	})
	do.Provide[diffusion.Loader](injector, func(i *do.Injector) (diffusion.Loader, error) {
		switch backend := do.MustInvokeNamed[string](i, "backend"); backend {
		case "localai":
			client, err := do.Invoke[*openai.Client](i)
			if err != nil {
				return nil, err
			}
			return &diffusion.LocalAILoader{Client: client, ModelsDir: os.Getenv("HAL_LOCALAI_MODELS_DIR")}, nil
		case "dezgo":
			key, err := do.InvokeNamed[string](i, "dezgo_key")
			if err != nil {
				return nil, err
			}
			return &diffusion.DezgoLoader{Client: do.MustInvoke[*http.Client](i), Key: key, Model: os.Getenv("HAL_DEZGO_MODEL")}, nil
		default:
			return nil, fmt.Errorf("unknown backend %q", backend)
		}
	})

	do.Provide[store.Uploader](injector, func(i *do.Injector) (store.Uploader, error) {
		uploaders := store.MultiUploader{&store.FileUploader{}}
		if bucket := do.MustInvokeNamed[string](i, "bucket"); bucket != "" {
			client, err := do.Invoke[*s3.Client](i)
			if err != nil {
				return nil, err
			}
			uploaders = append(uploaders, &store.S3Uploader{Client: client, Bucket: bucket, Prefix: "generated-images"})
		}
		return uploaders, nil
	})
	do.Provide[store.Invalidator](injector, func(i *do.Injector) (store.Invalidator, error) {
		distribution := do.MustInvokeNamed[string](i, "distribution")
		if distribution == "" {
			return store.NopInvalidator{}, nil
		}
		client, err := do.Invoke[*cloudfront.Client](i)
		if err != nil {
			return nil, err
		}
		return &store.CloudFrontInvalidator{Client: client, Distribution: distribution}, nil
	})

	do.Provide[*handler.Handler](injector, handler.NewHandler)

	return injector
}
