package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"wordle/server/tools/wordlectl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := wordlectl.NewRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
