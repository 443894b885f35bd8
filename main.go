package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wordle/server/internal/config"
	"wordle/server/internal/logging"
	"wordle/server/internal/persistence"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Path: cfg.Logging.Path})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Close()

	a, err := newApp(cfg, logger)
	if err != nil {
		if errors.Is(err, persistence.ErrCorrupt) {
			logger.Fatal("refusing to start with a corrupt snapshot", logging.String("path", cfg.StatePath), logging.Error(err))
		}
		logger.Fatal("startup failed", logging.Error(err))
	}

	if err := a.listen(); err != nil {
		a.abort()
		logger.Fatal("bind listeners", logging.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.run(ctx); err != nil {
		logger.Error("server exited with error", logging.Error(err))
		logger.Close()
		os.Exit(1)
	}
}
