package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/liftoff/internal/launch"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding the launch snapshot, the sync log,
// and per-launch user flags.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "liftoff.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Snapshots ---

// SaveSnapshot replaces the collection stored under key.
func (s *Store) SaveSnapshot(key string, records []launch.Record) error {
	if records == nil {
		records = []launch.Record{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO snapshots (key, payload, records, saved_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, records = excluded.records, saved_at = excluded.saved_at`,
		key, string(payload), len(records), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot %q: %w", key, err)
	}
	return nil
}

// LoadSnapshot returns the collection stored under key, or ErrNotFound.
func (s *Store) LoadSnapshot(key string) ([]launch.Record, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM snapshots WHERE key = ?", key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %q: %w", key, err)
	}
	var records []launch.Record
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		return nil, fmt.Errorf("decoding snapshot %q: %w", key, err)
	}
	return records, nil
}

// SnapshotInfo returns metadata about the collection stored under key.
func (s *Store) SnapshotInfo(key string) (Snapshot, error) {
	info := Snapshot{Key: key}
	var savedAt string
	err := s.db.QueryRow("SELECT records, saved_at FROM snapshots WHERE key = ?", key).Scan(&info.Records, &savedAt)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	if info.SavedAt, err = time.Parse(timeLayout, savedAt); err != nil {
		return Snapshot{}, fmt.Errorf("parsing saved_at: %w", err)
	}
	return info, nil
}

// --- Sync runs ---

func (s *Store) RecordSyncRun(run SyncRun) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_runs (id, started_at, finished_at, forced, fetched, published, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
		run.Forced, run.Fetched, run.Published, run.Status, nullString(run.Error),
	)
	return err
}

func (s *Store) RecentSyncRuns(limit int) ([]SyncRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, forced, fetched, published, status, error
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SyncRun
	for rows.Next() {
		var r SyncRun
		var startedAt, finishedAt string
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Forced, &r.Fetched, &r.Published, &r.Status, &errText); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at for run %s: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
			return nil, fmt.Errorf("parsing finished_at for run %s: %w", r.ID, err)
		}
		r.Error = errText.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Launch flags ---

// SetFlags stores the user flags for a launch. A launch with both flags
// cleared is removed from the table.
func (s *Store) SetFlags(launchID string, f launch.Flags) error {
	if !f.Favorite && !f.NotificationsEnabled {
		_, err := s.db.Exec("DELETE FROM launch_flags WHERE launch_id = ?", launchID)
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO launch_flags (launch_id, favorite, notifications, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(launch_id) DO UPDATE SET favorite = excluded.favorite, notifications = excluded.notifications, updated_at = excluded.updated_at`,
		launchID, f.Favorite, f.NotificationsEnabled, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// AllFlags returns the stored flags keyed by launch id.
func (s *Store) AllFlags() (map[string]launch.Flags, error) {
	rows, err := s.db.Query("SELECT launch_id, favorite, notifications FROM launch_flags")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]launch.Flags)
	for rows.Next() {
		var id string
		var f launch.Flags
		if err := rows.Scan(&id, &f.Favorite, &f.NotificationsEnabled); err != nil {
			return nil, err
		}
		result[id] = f
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
