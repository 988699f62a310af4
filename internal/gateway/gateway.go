// Package gateway fetches upcoming launches from the provider API with
// request spacing, retries and a short-lived response cache.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/liftoff/internal/launch"
)

const (
	defaultBaseURL = "https://ll.thespacedevs.com/2.2.0"
	defaultLimit   = 50
	defaultTimeout = 30 * time.Second

	// CacheValidity is how long a successful response is served without
	// touching the network.
	CacheValidity = 10 * time.Minute
	// MinRequestSpacing is the minimum gap between two provider requests.
	MinRequestSpacing = 3 * time.Second
	// MaxRetries is the number of attempts made after the first one.
	MaxRetries = 3

	maxErrorBody = 4 << 10
)

// backoff is indexed by attempt number; attempt 0 is the first request.
var backoff = []time.Duration{0, 3 * time.Second, 9 * time.Second, 27 * time.Second}

// ErrUnavailable is returned when every attempt failed and no cached
// response can satisfy the caller.
var ErrUnavailable = errors.New("launch provider unavailable")

// RetryDelay returns the wait before attempt n.
func RetryDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return backoff[min(n, len(backoff)-1)]
}

// Options configures a Gateway. Zero values select defaults.
type Options struct {
	BaseURL    string
	APIKey     string
	Limit      int
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Now and Sleep replace the wall clock in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Gateway is the single entry point to the launch provider. All of its
// mutable state is private; it is safe for concurrent use.
type Gateway struct {
	baseURL    string
	apiKey     string
	limit      int
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	// slot serializes request spacing; holding it means owning lastRequest.
	slot        chan struct{}
	lastRequest time.Time

	mu       sync.Mutex
	cache    []launch.Record
	cachedAt time.Time
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	g := &Gateway{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		limit:      opts.Limit,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		now:        opts.Now,
		sleep:      opts.Sleep,
		slot:       make(chan struct{}, 1),
	}
	if g.baseURL == "" {
		g.baseURL = defaultBaseURL
	}
	if g.limit <= 0 {
		g.limit = defaultLimit
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.sleep == nil {
		g.sleep = sleepCtx
	}
	return g
}

// Fetch returns upcoming launches. A valid cached response holding at least
// minimumCount records is returned without a network call unless
// forceRefresh is set. When all attempts fail, a stale cache that satisfies
// minimumCount is preferred over an error.
func (g *Gateway) Fetch(ctx context.Context, forceRefresh bool, minimumCount int) ([]launch.Record, error) {
	if !forceRefresh {
		if recs, ok := g.cached(minimumCount, true); ok {
			return recs, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if d := RetryDelay(attempt); d > 0 {
			g.logger.Info("gateway: retrying launch fetch", "attempt", attempt, "delay", d, "error", lastErr)
			if err := g.sleep(ctx, d); err != nil {
				lastErr = err
				break
			}
		}

		recs, err := g.fetchOnce(ctx)
		if err == nil {
			return g.accept(recs), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		g.logger.Warn("gateway: launch fetch failed", "attempt", attempt, "error", err)
	}

	if recs, ok := g.cached(minimumCount, false); ok {
		g.logger.Warn("gateway: serving stale launches", "count", len(recs), "error", lastErr)
		return recs, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

// accept installs a fresh response as the cache. An empty response never
// replaces previous data.
func (g *Gateway) accept(recs []launch.Record) []launch.Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(recs) == 0 {
		g.logger.Info("gateway: provider returned no launches, keeping previous cache", "cached", len(g.cache))
		return cloneRecords(g.cache)
	}
	g.cache = recs
	g.cachedAt = g.now()
	return cloneRecords(recs)
}

func (g *Gateway) cached(minimumCount int, requireFresh bool) ([]launch.Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cache == nil || len(g.cache) < minimumCount {
		return nil, false
	}
	if requireFresh && g.now().Sub(g.cachedAt) >= CacheValidity {
		return nil, false
	}
	return cloneRecords(g.cache), true
}

func (g *Gateway) fetchOnce(ctx context.Context) ([]launch.Record, error) {
	if err := g.waitForSlot(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(g.limit))
	q.Set("mode", "detailed")
	endpoint := g.baseURL + "/launch/upcoming/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Token "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding launches: %w", err)
	}
	return convertResults(env.Results, g.logger), nil
}

// waitForSlot blocks until MinRequestSpacing has passed since the previous
// request, then claims the next request time.
func (g *Gateway) waitForSlot(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slot }()

	if !g.lastRequest.IsZero() {
		if wait := g.lastRequest.Add(MinRequestSpacing).Sub(g.now()); wait > 0 {
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	g.lastRequest = g.now()
	return nil
}

func cloneRecords(in []launch.Record) []launch.Record {
	if in == nil {
		return []launch.Record{}
	}
	out := make([]launch.Record, len(in))
	copy(out, in)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
