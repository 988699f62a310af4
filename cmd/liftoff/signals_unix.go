//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kalambet/liftoff/internal/assets"
)

// watchLowMemory trims the in-memory image tier on SIGUSR1 until ctx ends.
func watchLowMemory(ctx context.Context, loader *assets.Loader) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			loader.TrimMemory()
		}
	}
}
