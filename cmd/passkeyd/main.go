package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	passkeydcmd "github.com/passkeyd/passkeyd/internal/cmd/passkeyd"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := passkeydcmd.ParseConfig(flag.CommandLine, os.Args[1:], func(key string) (string, bool) {
		value, ok := os.LookupEnv(key)
		return value, ok
	})
	if err != nil {
		logger.Error("parse flags", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := passkeydcmd.Run(ctx, cfg, logger); err != nil {
		logger.Error("failed to serve", "error", err)
		os.Exit(1)
	}
}
