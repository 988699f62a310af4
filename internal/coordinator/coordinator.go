// Package coordinator sequences the launch pipeline: fetch, merge with the
// persisted snapshot, publish, enrich in the background, persist.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/liftoff/internal/assets"
	"github.com/kalambet/liftoff/internal/enrich"
	"github.com/kalambet/liftoff/internal/launch"
	"github.com/kalambet/liftoff/internal/storage"
)

// DefaultInterval is the Run loop period when none is configured.
const DefaultInterval = 15 * time.Minute

var (
	// ErrUnableToLoad is returned by Sync when the provider failed and no
	// cached response could stand in for it.
	ErrUnableToLoad = errors.New("unable to load launches, check connection")

	// ErrUnknownLaunch is returned for ids outside the working set.
	ErrUnknownLaunch = errors.New("launch not in working set")

	// ErrNoFlagStore is returned by SetFlags when no flag store is configured.
	ErrNoFlagStore = errors.New("no flag store configured")
)

// Fetcher supplies provider records.
type Fetcher interface {
	Fetch(ctx context.Context, forceRefresh bool, minimumCount int) ([]launch.Record, error)
}

// Enricher fills in narrative content.
type Enricher interface {
	Sweep(ctx context.Context, records []launch.Record, persist enrich.PersistFunc) ([]launch.Record, error)
	NeedsEnrichment(rec launch.Record) bool
}

// SnapshotStore persists the merged collection.
type SnapshotStore interface {
	SaveSnapshot(key string, records []launch.Record) error
	LoadSnapshot(key string) ([]launch.Record, error)
}

// FlagStore is the authoritative source of per-launch user flags.
type FlagStore interface {
	AllFlags() (map[string]launch.Flags, error)
	SetFlags(launchID string, f launch.Flags) error
}

// RunLog records sync outcomes.
type RunLog interface {
	RecordSyncRun(run storage.SyncRun) error
}

// Preloader warms the image cache.
type Preloader interface {
	Preload(ctx context.Context, items []assets.Item) (int, error)
}

// Options wires a Coordinator. Fetcher, Enricher and Store are required.
type Options struct {
	Fetcher  Fetcher
	Enricher Enricher
	Store    SnapshotStore

	// Optional collaborators.
	Flags     FlagStore
	Runs      RunLog
	Preloader Preloader

	SnapshotKey  string
	MinimumCount int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Coordinator owns the working set and the persisted snapshot. It is the
// only writer of either.
type Coordinator struct {
	fetcher   Fetcher
	enricher  Enricher
	store     SnapshotStore
	flags     FlagStore
	runs      RunLog
	preloader Preloader
	key       string
	minimum   int
	logger    *slog.Logger
	now       func() time.Time

	// syncMu serializes Sync calls.
	syncMu sync.Mutex

	mu          sync.Mutex
	records     []launch.Record
	subscribers map[int]chan []launch.Record
	nextSub     int
	background  bool
	lastRun     storage.SyncRun

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New creates a Coordinator with an empty working set.
func New(opts Options) (*Coordinator, error) {
	if opts.Fetcher == nil || opts.Enricher == nil || opts.Store == nil {
		return nil, errors.New("coordinator: fetcher, enricher and store are required")
	}
	c := &Coordinator{
		fetcher:     opts.Fetcher,
		enricher:    opts.Enricher,
		store:       opts.Store,
		flags:       opts.Flags,
		runs:        opts.Runs,
		preloader:   opts.Preloader,
		key:         opts.SnapshotKey,
		minimum:     opts.MinimumCount,
		logger:      opts.Logger,
		now:         opts.Now,
		subscribers: make(map[int]chan []launch.Record),
	}
	if c.key == "" {
		c.key = storage.SnapshotKey
	}
	if c.minimum <= 0 {
		c.minimum = 1
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	return c, nil
}

// Load publishes the persisted snapshot, pruned of stale records. A missing
// snapshot is not an error.
func (c *Coordinator) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records, err := c.store.LoadSnapshot(c.key)
	if errors.Is(err, storage.ErrNotFound) {
		records = nil
	} else if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	flags := c.loadFlags()

	c.mu.Lock()
	defer c.mu.Unlock()
	records = launch.Prune(records, c.now())
	if flags != nil {
		for i := range records {
			applyFlags(&records[i], flags)
		}
	}
	c.records = records
	c.publishLocked()
	c.logger.Info("loaded persisted snapshot", "records", len(records))
	return nil
}

// Sync fetches provider records and merges them into the working set. The
// merged set is persisted and published before Sync returns; enrichment and
// image preloading continue in the background.
func (c *Coordinator) Sync(ctx context.Context, force bool) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	run := storage.SyncRun{ID: uuid.NewString(), StartedAt: c.now(), Forced: force}

	c.mu.Lock()
	before := len(c.records)
	c.records = launch.Prune(c.records, c.now())
	if len(c.records) != before {
		c.logger.Info("pruned stale launches", "removed", before-len(c.records))
		c.persistLocked()
		c.publishLocked()
	}
	c.mu.Unlock()

	fetched, err := c.fetcher.Fetch(ctx, force, c.minimum)
	if err != nil {
		c.logger.Warn("sync failed", "error", err)
		run.Status = storage.RunFailed
		run.Error = err.Error()
		c.finishRun(run)
		return fmt.Errorf("%w: %w", ErrUnableToLoad, err)
	}
	run.Fetched = len(fetched)

	flags := c.loadFlags()

	c.mu.Lock()
	fetched = launch.Prune(fetched, c.now())
	if len(fetched) > 0 {
		c.records = merge(fetched, c.records, flags)
		c.persistLocked()
		c.publishLocked()
	} else {
		c.logger.Info("provider returned no current launches, keeping working set", "records", len(c.records))
	}
	run.Published = len(c.records)
	c.mu.Unlock()

	run.Status = storage.RunSucceeded
	c.finishRun(run)
	c.startBackground()
	return nil
}

// Launches returns a copy of the working set ordered by NET.
func (c *Coordinator) Launches() []launch.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneRecords(c.records)
}

// Get returns the working-set record with the given id.
func (c *Coordinator) Get(id string) (launch.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.ID == id {
			r.Insights = append([]string(nil), r.Insights...)
			return r, true
		}
	}
	return launch.Record{}, false
}

// LastRun returns the most recent sync outcome.
func (c *Coordinator) LastRun() storage.SyncRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

// SetFlags updates the user flags of a launch in the flag store and the
// working set.
func (c *Coordinator) SetFlags(id string, f launch.Flags) (launch.Record, error) {
	if c.flags == nil {
		return launch.Record{}, ErrNoFlagStore
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := -1
	for i := range c.records {
		if c.records[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return launch.Record{}, ErrUnknownLaunch
	}
	if err := c.flags.SetFlags(id, f); err != nil {
		return launch.Record{}, fmt.Errorf("storing flags for %s: %w", id, err)
	}
	c.records[idx].Favorite = f.Favorite
	c.records[idx].NotificationsEnabled = f.NotificationsEnabled
	c.persistLocked()
	c.publishLocked()
	return c.records[idx], nil
}

// Subscribe returns a channel that receives the working set on every
// change, starting with the current one. Slow readers only see the latest
// value. The returned func unsubscribes and closes the channel.
func (c *Coordinator) Subscribe() (<-chan []launch.Record, func()) {
	ch := make(chan []launch.Record, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	ch <- cloneRecords(c.records)
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Run syncs immediately and then every interval until ctx is cancelled.
// Failures are logged; the loop keeps going.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.Sync(ctx, false); err != nil && ctx.Err() == nil {
			c.logger.Error("scheduled sync failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Wait blocks until background enrichment and preloading finish.
func (c *Coordinator) Wait() {
	c.bgWG.Wait()
}

// Close stops background work and waits for it to exit. Progress persisted
// by completed enrichment batches is kept.
func (c *Coordinator) Close() {
	c.bgCancel()
	c.bgWG.Wait()
}

// startBackground launches the enrichment sweep and image preload unless a
// previous run is still going.
func (c *Coordinator) startBackground() {
	c.mu.Lock()
	if c.background || c.bgCtx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.background = true
	working := cloneRecords(c.records)
	c.bgWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.bgWG.Done()
		defer func() {
			c.mu.Lock()
			c.background = false
			c.mu.Unlock()
		}()
		c.runBackground(c.bgCtx, working)
	}()
}

func (c *Coordinator) runBackground(ctx context.Context, working []launch.Record) {
	if _, err := c.enricher.Sweep(ctx, working, c.applyEnrichment); err != nil {
		if ctx.Err() != nil {
			c.logger.Info("enrichment sweep interrupted", "error", err)
			return
		}
		c.logger.Warn("enrichment sweep stopped", "error", err)
	}

	if c.preloader == nil {
		return
	}
	var items []assets.Item
	for _, r := range c.Launches() {
		if r.ImageURL != "" {
			items = append(items, assets.Item{Key: r.ID, URL: r.ImageURL})
		}
	}
	if len(items) == 0 {
		return
	}
	n, err := c.preloader.Preload(ctx, items)
	if err != nil {
		c.logger.Info("image preload interrupted", "loaded", n, "error", err)
		return
	}
	c.logger.Debug("image preload finished", "loaded", n, "requested", len(items))
}

// applyEnrichment merges one enriched batch into the current working set by
// id, then persists and publishes. Records that left the working set since
// the sweep started are ignored; real content is never replaced.
func (c *Coordinator) applyEnrichment(ctx context.Context, batch []launch.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	index := make(map[string]int, len(c.records))
	for i, r := range c.records {
		index[r.ID] = i
	}
	changed := 0
	for _, enriched := range batch {
		i, ok := index[enriched.ID]
		if !ok || !enriched.HasEnrichment() {
			continue
		}
		cur := c.records[i]
		if cur.HasEnrichment() && !c.enricher.NeedsEnrichment(cur) {
			continue
		}
		if enriched.Overview == cur.Overview && slices.Equal(enriched.Insights, cur.Insights) {
			continue
		}
		c.records[i].Overview = enriched.Overview
		c.records[i].Insights = append([]string(nil), enriched.Insights...)
		changed++
	}
	if changed == 0 {
		return nil
	}
	if err := c.store.SaveSnapshot(c.key, c.records); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	c.publishLocked()
	return nil
}

func (c *Coordinator) loadFlags() map[string]launch.Flags {
	if c.flags == nil {
		return nil
	}
	flags, err := c.flags.AllFlags()
	if err != nil {
		c.logger.Warn("reading launch flags failed, carrying previous values", "error", err)
		return nil
	}
	return flags
}

// persistLocked writes the working set. Failures are logged; the in-memory
// set stays authoritative until the next successful write.
func (c *Coordinator) persistLocked() {
	if err := c.store.SaveSnapshot(c.key, c.records); err != nil {
		c.logger.Error("saving snapshot failed", "error", err)
	}
}

func (c *Coordinator) publishLocked() {
	for _, ch := range c.subscribers {
		// Replace an unread value so the reader always sees the latest set.
		select {
		case <-ch:
		default:
		}
		ch <- cloneRecords(c.records)
	}
}

func (c *Coordinator) finishRun(run storage.SyncRun) {
	run.FinishedAt = c.now()
	c.mu.Lock()
	c.lastRun = run
	c.mu.Unlock()
	if c.runs == nil {
		return
	}
	if err := c.runs.RecordSyncRun(run); err != nil {
		c.logger.Warn("recording sync run failed", "id", run.ID, "error", err)
	}
}

// merge builds the new working set from fetched records plus any previous
// record the fetch did not return. Enrichment already present in previous is
// kept by id. Flags come from the flag store when one answered, otherwise
// they are carried from previous.
func merge(fetched, previous []launch.Record, flags map[string]launch.Flags) []launch.Record {
	prev := make(map[string]launch.Record, len(previous))
	for _, r := range previous {
		prev[r.ID] = r
	}

	seen := make(map[string]bool, len(fetched))
	out := make([]launch.Record, 0, len(fetched))
	for _, r := range fetched {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true

		old, ok := prev[r.ID]
		if ok {
			if old.HasEnrichment() {
				r.Overview = old.Overview
				r.Insights = append([]string(nil), old.Insights...)
			}
			r.Favorite = old.Favorite
			r.NotificationsEnabled = old.NotificationsEnabled
		}
		if flags != nil {
			applyFlags(&r, flags)
		}
		out = append(out, r)
	}
	// Records the provider stopped returning stay until age pruning removes them.
	for _, r := range previous {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		r.Insights = append([]string(nil), r.Insights...)
		if flags != nil {
			applyFlags(&r, flags)
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].NET.Before(out[j].NET) })
	return out
}

func applyFlags(r *launch.Record, flags map[string]launch.Flags) {
	f := flags[r.ID]
	r.Favorite = f.Favorite
	r.NotificationsEnabled = f.NotificationsEnabled
}

func cloneRecords(in []launch.Record) []launch.Record {
	out := make([]launch.Record, len(in))
	for i, r := range in {
		r.Insights = append([]string(nil), r.Insights...)
		out[i] = r
	}
	return out
}
