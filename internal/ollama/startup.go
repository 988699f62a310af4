package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kalambet/liftoff/internal/proxy"
)

// ErrNotRunning is returned by EnsureReady when the server is unreachable.
var ErrNotRunning = errors.New("Ollama is not running. Start it with: ollama serve")

const warmUpTimeout = 30 * time.Second

// EnsureReady prepares model for enrichment: the server must be up, a
// missing model is pulled with progress written to w, and the model is
// loaded with one small request. A failed warm-up is reported to w only.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return ErrNotRunning
	}

	ok, err := c.HasModel(ctx, model)
	if err != nil {
		return fmt.Errorf("checking model %s: %w", model, err)
	}
	if !ok {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		last := ""
		err := c.PullModel(ctx, model, func(p PullProgress) {
			// Layers report many lines per status; print each status once
			// and sizes only when known.
			if pct := p.Percent(); pct >= 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else if p.Status != last {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
			last = p.Status
		})
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "model %s: ready\n", model)

	warmCtx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()
	if _, err := c.Complete(warmCtx, model, []proxy.Message{
		{Role: "user", Content: `Reply with {"ok":true}`},
	}); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", model, err)
		return nil
	}
	fmt.Fprintf(w, "model %s: warm\n", model)
	return nil
}
