// Package enrich attaches narrative overviews and insights to launch
// records, using a chat completion service when one is configured and a
// deterministic template otherwise.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/liftoff/internal/launch"
	"github.com/kalambet/liftoff/internal/proxy"
)

const (
	defaultCacheTTL    = time.Hour
	defaultConcurrency = 3
	defaultBatchSize   = 5
	defaultBatchPause  = 500 * time.Millisecond
	defaultMaxRetries  = 2
	defaultModel       = "gpt-4o-mini"

	// cache entries are swept once the map grows past this size.
	cacheSweepThreshold = 512
)

// Chatter is the chat completion dependency.
type Chatter interface {
	Complete(ctx context.Context, model string, messages []proxy.Message) (string, error)
}

// PersistFunc stores the records of one finished batch.
type PersistFunc func(ctx context.Context, batch []launch.Record) error

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	// Client may be nil, in which case every record gets fallback content.
	Client      Chatter
	Model       string
	CacheTTL    time.Duration
	Concurrency int
	BatchSize   int
	BatchPause  time.Duration
	MaxRetries  int
	Logger      *slog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type cacheEntry struct {
	result launch.Enrichment
	at     time.Time
}

// Orchestrator enriches records. It never returns errors to its callers:
// every failure degrades to fallback content.
type Orchestrator struct {
	client      Chatter
	model       string
	ttl         time.Duration
	concurrency int
	batchSize   int
	batchPause  time.Duration
	maxRetries  int
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		client:      opts.Client,
		model:       opts.Model,
		ttl:         opts.CacheTTL,
		concurrency: opts.Concurrency,
		batchSize:   opts.BatchSize,
		batchPause:  opts.BatchPause,
		maxRetries:  opts.MaxRetries,
		logger:      opts.Logger,
		now:         opts.Now,
		sleep:       opts.Sleep,
		cache:       make(map[string]cacheEntry),
	}
	if o.model == "" {
		o.model = defaultModel
	}
	if o.ttl <= 0 {
		o.ttl = defaultCacheTTL
	}
	if o.concurrency <= 0 {
		o.concurrency = defaultConcurrency
	}
	if o.batchSize <= 0 {
		o.batchSize = defaultBatchSize
	}
	if o.batchPause < 0 {
		o.batchPause = 0
	} else if o.batchPause == 0 {
		o.batchPause = defaultBatchPause
	}
	if o.maxRetries <= 0 {
		o.maxRetries = defaultMaxRetries
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
	return o
}

// Enrich returns rec with Overview and Insights populated. A cached result
// younger than the cache TTL is reused without any other work.
func (o *Orchestrator) Enrich(ctx context.Context, rec launch.Record) launch.Record {
	if res, ok := o.lookup(rec.ID); ok {
		return res.Apply(rec)
	}
	res := o.generate(ctx, rec)
	o.remember(rec.ID, res)
	return res.Apply(rec)
}

// EnrichBatch enriches records with at most Concurrency calls in flight.
// Every input record appears exactly once in the output.
func (o *Orchestrator) EnrichBatch(ctx context.Context, records []launch.Record) []launch.Record {
	out := make([]launch.Record, len(records))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, rec := range records {
		g.Go(func() error {
			out[i] = o.Enrich(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// NeedsEnrichment reports whether rec should go through enrichment: it has
// no narrative yet, or its narrative came from the fallback template and a
// service is configured that could do better.
func (o *Orchestrator) NeedsEnrichment(rec launch.Record) bool {
	if !rec.HasEnrichment() {
		return true
	}
	return o.client != nil && IsFallback(rec)
}

// Sweep enriches every record that needs it in sequential batches of
// BatchSize, pausing BatchPause between batches. persist is called after
// each batch so an interrupted sweep loses at most the batch in progress.
// The context is checked between batches; the enriched records processed
// so far are returned alongside any cancellation or persist error.
func (o *Orchestrator) Sweep(ctx context.Context, records []launch.Record, persist PersistFunc) ([]launch.Record, error) {
	var pending []launch.Record
	for _, rec := range records {
		if o.NeedsEnrichment(rec) {
			pending = append(pending, rec)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	o.logger.Info("enrichment sweep started", "pending", len(pending), "batch_size", o.batchSize)

	var done []launch.Record
	for start := 0; start < len(pending); start += o.batchSize {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if start > 0 {
			if err := o.sleep(ctx, o.batchPause); err != nil {
				return done, err
			}
		}

		end := min(start+o.batchSize, len(pending))
		batch := o.EnrichBatch(ctx, pending[start:end])
		if persist != nil {
			if err := persist(ctx, batch); err != nil {
				return done, fmt.Errorf("persisting enrichment batch: %w", err)
			}
		}
		done = append(done, batch...)
		o.logger.Debug("enrichment batch complete", "done", len(done), "pending", len(pending))
	}

	o.logger.Info("enrichment sweep finished", "enriched", len(done))
	return done, nil
}

func (o *Orchestrator) generate(ctx context.Context, rec launch.Record) launch.Enrichment {
	if o.client == nil {
		return Fallback(rec)
	}

	messages := BuildPrompt(rec)
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				break
			}
		}

		text, err := o.client.Complete(ctx, o.model, messages)
		if err != nil {
			o.logger.Warn("enrichment: chat request failed", "id", rec.ID, "attempt", attempt, "error", err)
			continue
		}
		res, ok := ParseResponse(text)
		if !ok {
			o.logger.Warn("enrichment: no usable JSON in response", "id", rec.ID, "attempt", attempt, "response", text)
			continue
		}
		return res
	}

	o.logger.Info("enrichment: using fallback content", "id", rec.ID)
	return Fallback(rec)
}

func (o *Orchestrator) lookup(id string) (launch.Enrichment, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.cache[id]
	if !ok {
		return launch.Enrichment{}, false
	}
	if o.now().Sub(e.at) >= o.ttl {
		delete(o.cache, id)
		return launch.Enrichment{}, false
	}
	return e.result, true
}

func (o *Orchestrator) remember(id string, res launch.Enrichment) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	if len(o.cache) >= cacheSweepThreshold {
		for k, e := range o.cache {
			if now.Sub(e.at) >= o.ttl {
				delete(o.cache, k)
			}
		}
	}
	o.cache[id] = cacheEntry{result: res, at: now}
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
