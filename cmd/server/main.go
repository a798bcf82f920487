// Package main implements the entry point for the TaskPulse server, which
// owns the task lifecycle, reminder scheduling and the event-driven
// synchronization pipeline.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
	os.Exit(0)
}
