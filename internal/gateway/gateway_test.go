package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func launchesJSON(t *testing.T, n int) string {
	t.Helper()
	results := make([]map[string]any, n)
	for i := range results {
		results[i] = map[string]any{
			"id":   fmt.Sprintf("launch-%d", i),
			"name": fmt.Sprintf("Mission %d", i),
			"net":  "2026-06-01T10:00:00Z",
		}
	}
	b, err := json.Marshal(map[string]any{"count": n, "next": nil, "previous": nil, "results": results})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func newTestGateway(srvURL string, clock *fakeClock) *Gateway {
	return New(Options{
		BaseURL: srvURL,
		Now:     clock.Now,
		Sleep:   clock.Sleep,
	})
}

func TestFetch_CachedWithinValidity_NoNetwork(t *testing.T) {
	var hits atomic.Int32
	body := launchesJSON(t, 5)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	clock := newFakeClock()
	g := newTestGateway(srv.URL, clock)

	first, err := g.Fetch(context.Background(), false, 1)
	if err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	clock.Advance(9 * time.Minute)
	second, err := g.Fetch(context.Background(), false, 5)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}

	if got := hits.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	if len(first) != 5 || len(second) != 5 {
		t.Errorf("lengths = %d, %d, want 5, 5", len(first), len(second))
	}
}

func TestFetch_CacheBelowMinimum_Refetches(t *testing.T) {
	var hits atomic.Int32
	body := launchesJSON(t, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL, newFakeClock())
	if _, err := g.Fetch(context.Background(), false, 0); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := g.Fetch(context.Background(), false, 10); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestFetch_ForceRefresh_RespectsSpacing(t *testing.T) {
	var hits atomic.Int32
	body := launchesJSON(t, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	clock := newFakeClock()
	g := newTestGateway(srv.URL, clock)

	if _, err := g.Fetch(context.Background(), true, 0); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := g.Fetch(context.Background(), true, 0); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if got := hits.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 2*time.Second {
		t.Errorf("sleeps = %v, want [2s]", sleeps)
	}
}

func TestFetch_CacheExpired_Refetches(t *testing.T) {
	var hits atomic.Int32
	body := launchesJSON(t, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	clock := newFakeClock()
	g := newTestGateway(srv.URL, clock)
	if _, err := g.Fetch(context.Background(), false, 0); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	clock.Advance(CacheValidity)
	if _, err := g.Fetch(context.Background(), false, 0); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestFetch_RetriesWithBackoffTable(t *testing.T) {
	var hits atomic.Int32
	body := launchesJSON(t, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	clock := newFakeClock()
	g := newTestGateway(srv.URL, clock)

	recs, err := g.Fetch(context.Background(), false, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("len = %d, want 1", len(recs))
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
	sleeps := clock.Sleeps()
	want := []time.Duration{3 * time.Second, 9 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleeps[%d] = %v, want %v", i, sleeps[i], want[i])
		}
	}
}

func TestFetch_AllAttemptsFail_ReturnsErrUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL, newFakeClock())
	_, err := g.Fetch(context.Background(), false, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
	if !IsRateLimited(err) {
		t.Errorf("IsRateLimited(%v) = false, want true", err)
	}
	if got := hits.Load(); got != MaxRetries+1 {
		t.Errorf("requests = %d, want %d", got, MaxRetries+1)
	}
}

func TestFetch_ClientErrorIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL, newFakeClock())
	_, err := g.Fetch(context.Background(), false, 0)
	if StatusCode(err) != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", StatusCode(err))
	}
	if got := hits.Load(); got != MaxRetries+1 {
		t.Errorf("requests = %d, want %d", got, MaxRetries+1)
	}
}

func TestFetch_AllAttemptsFail_ServesStaleCache(t *testing.T) {
	var fail atomic.Bool
	body := launchesJSON(t, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	clock := newFakeClock()
	g := newTestGateway(srv.URL, clock)
	if _, err := g.Fetch(context.Background(), false, 0); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	fail.Store(true)
	clock.Advance(time.Hour)

	recs, err := g.Fetch(context.Background(), false, 3)
	if err != nil {
		t.Fatalf("Fetch with stale cache: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("len = %d, want 3", len(recs))
	}

	if _, err := g.Fetch(context.Background(), false, 4); !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable when stale cache is too small", err)
	}
}

func TestFetch_EmptyResults_KeepsPreviousCache(t *testing.T) {
	var empty atomic.Bool
	full := launchesJSON(t, 50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if empty.Load() {
			fmt.Fprint(w, `{"count":0,"next":null,"previous":null,"results":[]}`)
			return
		}
		fmt.Fprint(w, full)
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL, newFakeClock())
	prev, err := g.Fetch(context.Background(), false, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	empty.Store(true)
	got, err := g.Fetch(context.Background(), true, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("len = %d, want 50", len(got))
	}
	for i := range got {
		if got[i].ID != prev[i].ID {
			t.Errorf("record %d = %q, want %q", i, got[i].ID, prev[i].ID)
		}
	}
}

func TestFetch_RequestShape(t *testing.T) {
	var gotAuth, gotPath, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		fmt.Fprint(w, `{"count":0,"results":[]}`)
	}))
	defer srv.Close()

	clock := newFakeClock()
	g := New(Options{BaseURL: srv.URL + "/", APIKey: "secret", Limit: 25, Now: clock.Now, Sleep: clock.Sleep})
	if _, err := g.Fetch(context.Background(), true, 0); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if gotAuth != "Token secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Token secret")
	}
	if gotPath != "/launch/upcoming/" {
		t.Errorf("path = %q, want /launch/upcoming/", gotPath)
	}
	if gotLimit != "25" {
		t.Errorf("limit = %q, want 25", gotLimit)
	}
}

func TestFetch_ContextCancelledStopsRetrying(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()
	g := New(Options{
		BaseURL: srv.URL,
		Now:     clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return clock.Sleep(ctx, d)
		},
	})

	_, err := g.Fetch(ctx, false, 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	if !strings.Contains(err.Error(), ErrUnavailable.Error()) {
		t.Errorf("error = %q, want it to mention %q", err, ErrUnavailable)
	}
}

func TestRetryDelay(t *testing.T) {
	want := []time.Duration{0, 3 * time.Second, 9 * time.Second, 27 * time.Second, 27 * time.Second, 27 * time.Second}
	for n, w := range want {
		if got := RetryDelay(n); got != w {
			t.Errorf("RetryDelay(%d) = %v, want %v", n, got, w)
		}
	}
}
