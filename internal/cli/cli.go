package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fphillips/hal-imagegen/internal/handler"
	"github.com/fphillips/hal-imagegen/internal/log"
	"github.com/samber/do"
	"github.com/spf13/cobra"
)

var errNoPrompt = errors.New("No prompt provided")

type SetupFunc func(context.Context) *do.Injector

// NewCommand builds the root command. Flag parsing is disabled so that any
// first argument, including one starting with a dash, is taken as the prompt.
func NewCommand(stdout io.Writer, setup SetupFunc) *cobra.Command {
	return &cobra.Command{
		Use:                "generate-image <prompt>",
		Short:              "Generate a 512x512 image from a text prompt",
		Long:               "Generate a 512x512 image from a text prompt and print a single JSON result line.",
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				if err := writeOutput(stdout, handler.Failure(errNoPrompt)); err != nil {
					return err
				}
				return errNoPrompt
			}
			return writeOutput(stdout, generate(cmd.Context(), setup, handler.Input{Prompt: args[0]}))
		},
	}
}

func generate(ctx context.Context, setup SetupFunc, input handler.Input) (out handler.Output) {
	logger := log.FromContextOrDiscard(ctx)
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			logger.Error("generation panicked", "error", err)
			out = handler.Failure(err)
		}
	}()

	injector := setup(ctx)
	defer func() {
		if err := injector.Shutdown(); err != nil {
			logger.Warn("injector shutdown", "error", err)
		}
	}()

	h, err := do.Invoke[*handler.Handler](injector)
	if err != nil {
		logger.Error("wiring failed", "error", err)
		return handler.Failure(err)
	}

	out, err = h.Handle(ctx, input)
	if err != nil {
		var herr *handler.Error
		if errors.As(err, &herr) {
			logger.Error("generation failed", "kind", herr.Kind.String(), "error", err)
		} else {
			logger.Error("generation failed", "error", err)
		}
		return handler.Failure(err)
	}
	logger.Info("generation succeeded", "image_path", out.ImagePath, "full_path", out.FullPath)
	return out
}

func writeOutput(w io.Writer, out handler.Output) error {
	return json.NewEncoder(w).Encode(out)
}

// Execute runs the command and returns the process exit status. Only a
// missing prompt exits non-zero; generation failures are reported in the
// output record.
func Execute(ctx context.Context, args []string, stdout io.Writer, setup SetupFunc) int {
	if args == nil {
		args = []string{}
	}
	cmd := NewCommand(stdout, setup)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errNoPrompt) {
			log.FromContextOrDiscard(ctx).Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}
