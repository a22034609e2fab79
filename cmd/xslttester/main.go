package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"xslttester/internal/logging"
)

func main() {
	logging.InitFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
