package param

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/fphillips/hal-imagegen/internal/log"
	"github.com/samber/do"
)

type parameterGetter interface {
	GetParameter(context.Context, *ssm.GetParameterInput, ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParameterStoreFetcher resolves secrets such as backend API keys from SSM
// Parameter Store. SecureString values are decrypted.
type ParameterStoreFetcher struct {
	client parameterGetter
}

func NewParameterStoreFetcher(i *do.Injector) (Fetcher, error) {
	client, err := do.Invoke[*ssm.Client](i)
	if err != nil {
		return nil, err
	}
	return &ParameterStoreFetcher{client: client}, nil
}

func (f *ParameterStoreFetcher) Fetch(ctx context.Context, name string) (string, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("ssm").With("name", name)
	logger.Debug("fetching secret")

	out, err := f.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("fetching parameter %s: %w", name, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("parameter %s is empty", name)
	}
	logger.Debug("fetched secret", "version", out.Parameter.Version)
	return aws.ToString(out.Parameter.Value), nil
}
