// Package assets is a two-tier byte cache for launch images: a bounded
// in-memory LRU in front of a directory of one file per key.
package assets

import (
	"bytes"
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMemoryBudget  = 50 << 20
	DefaultDiskBudget    = 100 << 20
	DefaultTTL           = 72 * time.Hour
	DefaultSweepInterval = time.Hour

	// sweeps over budget evict down to this share of the budget.
	sweepTargetPercent = 80

	tempPrefix = ".tmp-"
	maxNameLen = 100
	hashSuffix = 8
)

// Options configures a Cache. Zero values select defaults.
type Options struct {
	Dir           string
	MemoryBudget  int64
	DiskBudget    int64
	TTL           time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	MemoryHits    int64
	DiskHits      int64
	Misses        int64
	MemoryEntries int
	MemoryBytes   int64
}

// SweepResult reports what a disk sweep removed.
type SweepResult struct {
	Expired int
	Evicted int
	Files   int
	Bytes   int64
}

type memEntry struct {
	key     string
	data    []byte
	created time.Time
}

// Cache stores image payloads by key. Memory writes are synchronous; disk
// writes happen in the background and their failures are only logged.
type Cache struct {
	dir           string
	memBudget     int64
	diskBudget    int64
	ttl           time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	// pending tracks background disk writes and sweeps. Stores add to it
	// under a read lock on storeMu; Clear and Flush wait under the write
	// lock, so no Add races a Wait from zero.
	pending sync.WaitGroup
	storeMu sync.RWMutex

	mu        sync.Mutex
	lru       *list.List
	index     map[string]*list.Element
	memBytes  int64
	stats     Stats
	lastSweep time.Time

	// diskMu serializes sweeps and clears against each other.
	diskMu sync.Mutex
}

// NewCache creates the cache directory if needed and starts an initial
// disk sweep in the background.
func NewCache(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("assets: cache directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("assets: creating cache dir: %w", err)
	}

	c := &Cache{
		dir:           opts.Dir,
		memBudget:     opts.MemoryBudget,
		diskBudget:    opts.DiskBudget,
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		logger:        opts.Logger,
		now:           opts.Now,
		lru:           list.New(),
		index:         make(map[string]*list.Element),
	}
	if c.memBudget <= 0 {
		c.memBudget = DefaultMemoryBudget
	}
	if c.diskBudget <= 0 {
		c.diskBudget = DefaultDiskBudget
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = DefaultSweepInterval
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}

	c.lastSweep = c.now()
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		c.runSweep()
	}()
	return c, nil
}

// Store puts data under key. The memory copy is visible immediately; the
// disk copy is written asynchronously.
func (c *Cache) Store(data []byte, key string) {
	buf := append([]byte(nil), data...)

	c.storeMu.RLock()
	defer c.storeMu.RUnlock()
	c.putMemory(key, buf, c.now())
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if err := c.writeDisk(key, buf); err != nil {
			c.logger.Warn("assets: disk write failed", "key", key, "error", err)
			return
		}
		c.maybeSweep()
	}()
}

// Fetch returns a copy of the payload for key, checking memory first and
// then disk. A disk hit is promoted into memory.
func (c *Cache) Fetch(key string) ([]byte, bool) {
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.lru.MoveToFront(el)
		c.stats.MemoryHits++
		data := bytes.Clone(el.Value.(*memEntry).data)
		c.mu.Unlock()
		return data, true
	}
	c.mu.Unlock()

	data, created, ok := c.readDisk(key)
	c.mu.Lock()
	if ok {
		c.stats.DiskHits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	c.putMemory(key, data, created)
	return bytes.Clone(data), true
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.MemoryEntries = c.lru.Len()
	s.MemoryBytes = c.memBytes
	return s
}

// TrimMemory drops all but the keep most recently used memory entries.
// The disk tier is not touched.
func (c *Cache) TrimMemory(keep int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for c.lru.Len() > max(keep, 0) {
		c.removeElement(c.lru.Back())
		removed++
	}
	return removed
}

// Sweep removes disk entries older than the TTL and, if the remaining
// files exceed the disk budget, deletes the oldest until usage is at or
// below 80% of the budget.
func (c *Cache) Sweep() (SweepResult, error) {
	c.diskMu.Lock()
	defer c.diskMu.Unlock()

	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return SweepResult{}, fmt.Errorf("assets: reading cache dir: %w", err)
	}

	type diskFile struct {
		path string
		size int64
		mod  time.Time
	}

	now := c.now()
	var res SweepResult
	var live []diskFile
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		p := filepath.Join(c.dir, de.Name())
		if now.Sub(info.ModTime()) > c.ttl {
			if err := os.Remove(p); err == nil || errors.Is(err, fs.ErrNotExist) {
				res.Expired++
			}
			continue
		}
		if strings.HasPrefix(de.Name(), tempPrefix) {
			continue
		}
		live = append(live, diskFile{path: p, size: info.Size(), mod: info.ModTime()})
		res.Bytes += info.Size()
	}

	if res.Bytes > c.diskBudget {
		target := c.diskBudget * sweepTargetPercent / 100
		sort.Slice(live, func(i, j int) bool { return live[i].mod.Before(live[j].mod) })
		kept := live[:0]
		for _, f := range live {
			if res.Bytes <= target {
				kept = append(kept, f)
				continue
			}
			if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				c.logger.Warn("assets: evicting cache file failed", "path", f.path, "error", err)
				kept = append(kept, f)
				continue
			}
			res.Bytes -= f.size
			res.Evicted++
		}
		live = kept
	}
	res.Files = len(live)
	return res, nil
}

// DiskUsage returns the number and total size of committed disk entries.
func (c *Cache) DiskUsage() (files int, size int64, err error) {
	c.diskMu.Lock()
	defer c.diskMu.Unlock()

	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("assets: reading cache dir: %w", err)
	}
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), tempPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files++
		size += info.Size()
	}
	return files, size, nil
}

// Clear drops both tiers. Stores issued while it runs wait for it.
func (c *Cache) Clear() error {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	c.pending.Wait()

	c.mu.Lock()
	c.lru.Init()
	c.index = make(map[string]*list.Element)
	c.memBytes = 0
	c.mu.Unlock()

	c.diskMu.Lock()
	defer c.diskMu.Unlock()
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("assets: reading cache dir: %w", err)
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, de.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("assets: removing %s: %w", de.Name(), err)
		}
	}
	return nil
}

// Flush waits for pending background disk work to finish.
func (c *Cache) Flush() {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	c.pending.Wait()
}

func (c *Cache) putMemory(key string, data []byte, created time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.removeElement(el)
	}
	el := c.lru.PushFront(&memEntry{key: key, data: data, created: created})
	c.index[key] = el
	c.memBytes += int64(len(data))

	// Evict least recently used entries, never the one just added.
	for c.memBytes > c.memBudget && c.lru.Len() > 1 {
		c.removeElement(c.lru.Back())
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := c.lru.Remove(el).(*memEntry)
	delete(c.index, e.key)
	c.memBytes -= int64(len(e.data))
}

func (c *Cache) maybeSweep() {
	c.mu.Lock()
	due := c.now().Sub(c.lastSweep) >= c.sweepInterval
	if due {
		c.lastSweep = c.now()
	}
	c.mu.Unlock()
	if due {
		c.runSweep()
	}
}

func (c *Cache) runSweep() {
	res, err := c.Sweep()
	if err != nil {
		c.logger.Warn("assets: sweep failed", "error", err)
		return
	}
	if res.Expired > 0 || res.Evicted > 0 {
		c.logger.Info("assets: sweep removed files", "expired", res.Expired, "evicted", res.Evicted, "bytes", res.Bytes)
	}
}

// writeDisk writes atomically: temp file, fsync, rename.
func (c *Cache) writeDisk(key string, data []byte) error {
	dst := c.pathFor(key)
	tmp, err := os.CreateTemp(c.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true
	return nil
}

func (c *Cache) readDisk(key string) ([]byte, time.Time, bool) {
	p := c.pathFor(key)
	info, err := os.Stat(p)
	if err != nil {
		return nil, time.Time{}, false
	}
	if c.now().Sub(info.ModTime()) > c.ttl {
		_ = os.Remove(p)
		return nil, time.Time{}, false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		c.logger.Warn("assets: disk read failed", "key", key, "error", err)
		return nil, time.Time{}, false
	}
	return data, info.ModTime(), true
}

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.dir, FileName(key))
}

// FileName maps a cache key to a path-safe file name. Keys that needed
// sanitizing get a short hash suffix so distinct keys stay distinct.
func FileName(key string) string {
	var sb strings.Builder
	changed := false
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		case r == '.' && sb.Len() > 0:
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
			changed = true
		}
	}
	name := sb.String()
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
		changed = true
	}
	if name == "" || changed {
		sum := sha256.Sum256([]byte(key))
		name += "-" + hex.EncodeToString(sum[:])[:hashSuffix]
	}
	return name
}
