package main

import (
	"context"
	"os"

	"github.com/fphillips/hal-imagegen/internal/cli"
	"github.com/fphillips/hal-imagegen/internal/inject"
	"github.com/fphillips/hal-imagegen/internal/log"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; the environment wins over it.
	_ = godotenv.Load()

	logger := log.New(os.Stderr, log.ParseLevel(os.Getenv("HAL_LOG_LEVEL")))
	ctx := log.NewContext(context.Background(), logger)
	os.Exit(cli.Execute(ctx, os.Args[1:], os.Stdout, inject.Setup))
}
