package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/liftoff/internal/coordinator"
	"github.com/kalambet/liftoff/internal/launch"
	"github.com/kalambet/liftoff/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	defaultRunsLimit   = 20
	maxRunsLimit       = 200
)

// LaunchService is the coordinator surface the handlers need.
type LaunchService interface {
	Launches() []launch.Record
	Get(id string) (launch.Record, bool)
	Sync(ctx context.Context, force bool) error
	SetFlags(id string, f launch.Flags) (launch.Record, error)
	LastRun() storage.SyncRun
}

// AssetLoader resolves image bytes for a key.
type AssetLoader interface {
	Load(ctx context.Context, key, url string) ([]byte, error)
}

// RunLister reads the sync audit log.
type RunLister interface {
	RecentSyncRuns(limit int) ([]storage.SyncRun, error)
}

type Deps struct {
	Launches LaunchService
	Assets   AssetLoader // optional; nil disables /assets
	Runs     RunLister   // optional; nil disables /sync-runs
	Token    string
}

// Flags is the request and response body for launch flag updates.
type Flags struct {
	Favorite             bool `json:"favorite"`
	NotificationsEnabled bool `json:"notifications_enabled"`
}

type launchList struct {
	Count    int             `json:"count"`
	Launches []launch.Record `json:"launches"`
}

type runView struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
	Forced     bool      `json:"forced"`
	Fetched    int       `json:"fetched"`
	Published  int       `json:"published"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

func toRunView(r storage.SyncRun) runView {
	return runView{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
		Forced:     r.Forced,
		Fetched:    r.Fetched,
		Published:  r.Published,
		Status:     r.Status,
		Error:      r.Error,
	}
}

// NewHandler returns the local HTTP API. Everything except /health sits
// behind bearer auth when a token is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/launches", handleListLaunches(deps))
		r.Get("/launches/{id}", handleGetLaunch(deps))
		r.Put("/launches/{id}/flags", handleSetFlags(deps))
		r.Post("/sync", handleSync(deps))
		if deps.Runs != nil {
			r.Get("/sync-runs", handleSyncRuns(deps))
		}
		if deps.Assets != nil {
			r.Get("/assets/{key}", handleAsset(deps))
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListLaunches(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records := deps.Launches.Launches()

		if r.URL.Query().Get("favorites") == "true" {
			kept := records[:0]
			for _, rec := range records {
				if rec.Favorite {
					kept = append(kept, rec)
				}
			}
			records = kept
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a non-negative integer")
				return
			}
			if limit < len(records) {
				records = records[:limit]
			}
		}

		writeJSON(w, http.StatusOK, launchList{Count: len(records), Launches: records})
	}
}

func handleGetLaunch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, ok := deps.Launches.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "launch %q not found", id)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleSetFlags(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var body Flags
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id := chi.URLParam(r, "id")
		rec, err := deps.Launches.SetFlags(id, launch.Flags{
			Favorite:             body.Favorite,
			NotificationsEnabled: body.NotificationsEnabled,
		})
		switch {
		case errors.Is(err, coordinator.ErrUnknownLaunch):
			httpError(w, http.StatusNotFound, "not_found", "launch %q not found", id)
			return
		case errors.Is(err, coordinator.ErrNoFlagStore):
			httpError(w, http.StatusNotImplemented, "api_error", "flags are not stored by this server")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "updating flags: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("force") == "true"
		if err := deps.Launches.Sync(r.Context(), force); err != nil {
			if errors.Is(err, coordinator.ErrUnableToLoad) {
				httpError(w, http.StatusServiceUnavailable, "unavailable", "%s", coordinator.ErrUnableToLoad.Error())
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "sync failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"count":  len(deps.Launches.Launches()),
			"run":    toRunView(deps.Launches.LastRun()),
		})
	}
}

func handleSyncRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, maxRunsLimit)
		}

		runs, err := deps.Runs.RecentSyncRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing sync runs: %v", err)
			return
		}
		views := make([]runView, len(runs))
		for i, run := range runs {
			views[i] = toRunView(run)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// handleAsset serves launch images by launch id. Keys outside the working
// set are served only if already cached.
func handleAsset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		var source string
		if rec, ok := deps.Launches.Get(key); ok {
			source = rec.ImageURL
		}

		data, err := deps.Assets.Load(r.Context(), key, source)
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "asset %q unavailable: %v", key, err)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
