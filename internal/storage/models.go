package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SnapshotKey is the storage key of the merged launch collection.
const SnapshotKey = "launches"

// Sync run outcomes.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// SyncRun is one entry of the sync audit log.
type SyncRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Forced     bool
	Fetched    int
	Published  int
	Status     string // "succeeded" or "failed"
	Error      string
}

// Snapshot describes a persisted collection without its payload.
type Snapshot struct {
	Key     string
	Records int
	SavedAt time.Time
}
