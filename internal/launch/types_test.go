package launch

import (
	"testing"
	"time"
)

func TestPrune_DropsRecordsPastStaleWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "old", NET: now.Add(-25 * time.Hour)},
		{ID: "recent", NET: now.Add(-23 * time.Hour)},
		{ID: "future", NET: now.Add(48 * time.Hour)},
	}

	got := Prune(records, now)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "recent" || got[1].ID != "future" {
		t.Errorf("ids = %q, %q, want recent, future", got[0].ID, got[1].ID)
	}
}

func TestEnrichmentApply_CopiesInsights(t *testing.T) {
	e := Enrichment{Overview: "o", Insights: []string{"a", "b"}}
	r := e.Apply(Record{ID: "x"})
	e.Insights[0] = "mutated"

	if r.Overview != "o" {
		t.Errorf("Overview = %q, want %q", r.Overview, "o")
	}
	if r.Insights[0] != "a" {
		t.Errorf("Insights[0] = %q, want %q (must not alias)", r.Insights[0], "a")
	}
	if !r.HasEnrichment() {
		t.Error("HasEnrichment = false, want true")
	}
}
