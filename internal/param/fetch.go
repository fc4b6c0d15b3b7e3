package param

import (
	"context"
	"fmt"
	"os"

	"github.com/fphillips/hal-imagegen/internal/log"
)

type Fetcher interface {
	Fetch(context.Context, string) (string, error)
}

// EnvFetcher treats parameter names as environment variable names.
type EnvFetcher struct{}

func (EnvFetcher) Fetch(ctx context.Context, name string) (string, error) {
	log.FromContextOrDiscard(ctx).WithGroup("env").Debug("fetching parameter", "name", name)
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return v, nil
}
