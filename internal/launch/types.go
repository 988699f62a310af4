// Package launch holds the domain types shared by the sync pipeline.
package launch

import "time"

// Unknown is the placeholder used when a provider field is absent.
const Unknown = "Unknown"

// StaleAfter is how far past NET a record stays in the working set.
const StaleAfter = 24 * time.Hour

// Coordinates is a launch pad position in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Record is a single upcoming launch. ID and NET never change once created;
// Overview and Insights are filled in by enrichment.
type Record struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	NET         time.Time    `json:"net"`
	Provider    string       `json:"provider"`
	Location    string       `json:"location"`
	Pad         *Coordinates `json:"pad,omitempty"`
	Rocket      string       `json:"rocket"`
	Mission     string       `json:"mission,omitempty"`
	Status      string       `json:"status,omitempty"`
	Probability *int         `json:"probability,omitempty"`
	Overview    string       `json:"overview,omitempty"`
	Insights    []string     `json:"insights,omitempty"`
	ImageURL    string       `json:"image_url,omitempty"`

	// Owned by the flags store; carried through merges.
	Favorite             bool `json:"favorite,omitempty"`
	NotificationsEnabled bool `json:"notifications_enabled,omitempty"`
}

// HasEnrichment reports whether both narrative fields are populated.
func (r Record) HasEnrichment() bool {
	return r.Overview != "" && len(r.Insights) > 0
}

// IsStale reports whether the launch happened more than StaleAfter before now.
func (r Record) IsStale(now time.Time) bool {
	return r.NET.Before(now.Add(-StaleAfter))
}

// Source tags where an Enrichment came from.
type Source string

const (
	SourceReal     Source = "real"
	SourceFallback Source = "fallback"
)

// Enrichment is the narrative content attached to a Record.
type Enrichment struct {
	Overview string   `json:"missionOverview"`
	Insights []string `json:"insights"`
	Source   Source   `json:"-"`
}

// IsEmpty reports whether the enrichment carries no usable content.
func (e Enrichment) IsEmpty() bool {
	return e.Overview == "" && len(e.Insights) == 0
}

// Apply returns r with the enrichment fields set from e.
func (e Enrichment) Apply(r Record) Record {
	r.Overview = e.Overview
	r.Insights = append([]string(nil), e.Insights...)
	return r
}

// Flags are the user-local toggles owned outside the pipeline.
type Flags struct {
	Favorite             bool
	NotificationsEnabled bool
}

// Prune drops records that are stale relative to now, keeping order.
func Prune(records []Record, now time.Time) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if !r.IsStale(now) {
			out = append(out, r)
		}
	}
	return out
}
