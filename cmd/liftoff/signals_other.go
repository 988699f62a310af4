//go:build windows

package main

import (
	"context"

	"github.com/kalambet/liftoff/internal/assets"
)

// watchLowMemory is a no-op where SIGUSR1 does not exist.
func watchLowMemory(ctx context.Context, loader *assets.Loader) {}
