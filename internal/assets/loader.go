package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// LowMemoryKeep is how many entries survive a memory-pressure trim.
	LowMemoryKeep = 20

	defaultDownloadTimeout = 30 * time.Second
	maxDownloadSize        = 20 << 20
)

// Item names an asset to load: the cache key and where to download it.
type Item struct {
	Key string
	URL string
}

// Loader resolves assets through the Cache, downloading on a miss. At most
// one download per key is in flight; concurrent callers for the same key
// wait for it and share the result. A caller that gives up stops waiting
// but leaves the download running for the others.
type Loader struct {
	cache      *Cache
	httpClient *http.Client
	logger     *slog.Logger

	group     singleflight.Group
	downloads atomic.Int64
}

// NewLoader creates a Loader. A nil client uses a default with a timeout.
func NewLoader(cache *Cache, client *http.Client, logger *slog.Logger) *Loader {
	if client == nil {
		client = &http.Client{Timeout: defaultDownloadTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cache: cache, httpClient: client, logger: logger}
}

// Downloads returns the number of network downloads performed.
func (l *Loader) Downloads() int64 {
	return l.downloads.Load()
}

// Load returns the asset for key, downloading it from url if neither tier
// holds it.
func (l *Loader) Load(ctx context.Context, key, url string) ([]byte, error) {
	if data, ok := l.cache.Fetch(key); ok {
		return data, nil
	}
	if url == "" {
		return nil, fmt.Errorf("assets: %q not cached and no source url", key)
	}

	ch := l.group.DoChan(key, func() (any, error) {
		// Another caller may have finished the download while we queued.
		if data, ok := l.cache.Fetch(key); ok {
			return data, nil
		}
		// The download is shared, so no single caller's cancellation ends it.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultDownloadTimeout)
		defer cancel()
		data, err := l.download(dctx, url)
		if err != nil {
			return nil, err
		}
		l.cache.Store(data, key)
		return data, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return bytes.Clone(res.Val.([]byte)), nil
	}
}

// Preload loads items one at a time, skipping failures. It stops early if
// ctx is cancelled, returning how many items are now cached.
func (l *Loader) Preload(ctx context.Context, items []Item) (int, error) {
	loaded := 0
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		if it.URL == "" {
			continue
		}
		if _, err := l.Load(ctx, it.Key, it.URL); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return loaded, err
			}
			l.logger.Warn("assets: preload failed", "key", it.Key, "error", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// TrimMemory responds to a low-memory signal by keeping only the most
// recently used entries in memory.
func (l *Loader) TrimMemory() {
	removed := l.cache.TrimMemory(LowMemoryKeep)
	l.logger.Info("assets: trimmed memory cache", "removed", removed, "kept", LowMemoryKeep)
}

func (l *Loader) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: unexpected status %d", url, resp.StatusCode)
	}
	l.downloads.Add(1)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("downloading %s: asset exceeds %d bytes", url, maxDownloadSize)
	}
	return data, nil
}
