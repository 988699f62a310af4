package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kalambet/liftoff/internal/launch"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawResults(t *testing.T, items ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(items))
	for i, s := range items {
		out[i] = json.RawMessage(s)
	}
	return out
}

func TestConvertResults_FullRecord(t *testing.T) {
	raw := rawResults(t, `{
		"id": "abc",
		"name": "Falcon 9 | Starlink 12-3",
		"net": "2026-06-01T10:30:00Z",
		"status": {"name": "Go for Launch", "abbrev": "Go"},
		"launch_service_provider": {"name": "SpaceX"},
		"rocket": {"configuration": {"name": "Falcon 9", "full_name": "Falcon 9 Block 5"}},
		"mission": {"name": "Starlink 12-3", "description": "A batch of satellites."},
		"pad": {"name": "SLC-40", "latitude": "28.5619", "longitude": -80.577, "location": {"name": "Cape Canaveral, FL, USA"}},
		"probability": 90,
		"image": "https://example.com/f9.jpg"
	}`)

	got := convertResults(raw, discardLogger())
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	r := got[0]
	if r.ID != "abc" || r.Provider != "SpaceX" || r.Rocket != "Falcon 9" || r.Mission != "Starlink 12-3" {
		t.Errorf("unexpected record fields: %+v", r)
	}
	if r.Location != "Cape Canaveral, FL, USA" {
		t.Errorf("Location = %q", r.Location)
	}
	if !r.NET.Equal(time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("NET = %v", r.NET)
	}
	if r.Pad == nil || r.Pad.Latitude != 28.5619 || r.Pad.Longitude != -80.577 {
		t.Errorf("Pad = %+v", r.Pad)
	}
	if r.Probability == nil || *r.Probability != 90 {
		t.Errorf("Probability = %v, want 90", r.Probability)
	}
	if r.Status != "Go for Launch" {
		t.Errorf("Status = %q", r.Status)
	}
	if r.ImageURL != "https://example.com/f9.jpg" {
		t.Errorf("ImageURL = %q", r.ImageURL)
	}
}

func TestConvertResults_DropsOnlyUnschedulable(t *testing.T) {
	raw := rawResults(t,
		`{"id": "no-net", "name": "A"}`,
		`{"id": "bad-net", "name": "B", "net": "next tuesday"}`,
		`not json at all`,
		`{"name": "no id", "net": "2026-06-01T10:30:00Z"}`,
		`{"id": "ok", "net": "2026-06-01T10:30:00Z"}`,
	)

	got := convertResults(raw, discardLogger())
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1: %+v", len(got), got)
	}
	if got[0].ID != "ok" {
		t.Errorf("ID = %q, want ok", got[0].ID)
	}
}

func TestConvertResults_MissingFieldsBecomePlaceholders(t *testing.T) {
	raw := rawResults(t, `{"id": "x", "net": "2026-06-01T10:30:00Z", "rocket": {}, "pad": {"latitude": null}}`)

	got := convertResults(raw, discardLogger())
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	r := got[0]
	for name, v := range map[string]string{"Name": r.Name, "Provider": r.Provider, "Rocket": r.Rocket, "Location": r.Location} {
		if v != launch.Unknown {
			t.Errorf("%s = %q, want %q", name, v, launch.Unknown)
		}
	}
	if r.Pad != nil {
		t.Errorf("Pad = %+v, want nil", r.Pad)
	}
	if r.Probability != nil {
		t.Errorf("Probability = %v, want nil", *r.Probability)
	}
}

func TestConvertResults_UnexpectedShapesDoNotFailSiblings(t *testing.T) {
	raw := rawResults(t, `{
		"id": "x",
		"name": "Electron | Mission",
		"net": "2026-06-01T10:30:00Z",
		"status": "Go",
		"launch_service_provider": {"name": "Rocket Lab"},
		"probability": "-1",
		"image": {"image_url": "https://example.com/e.jpg"}
	}`)

	got := convertResults(raw, discardLogger())
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	r := got[0]
	if r.Provider != "Rocket Lab" {
		t.Errorf("Provider = %q, want Rocket Lab", r.Provider)
	}
	if r.Status != "" {
		t.Errorf("Status = %q, want empty", r.Status)
	}
	if r.Probability != nil {
		t.Errorf("Probability = %v, want nil for out-of-range value", *r.Probability)
	}
	if r.ImageURL != "https://example.com/e.jpg" {
		t.Errorf("ImageURL = %q", r.ImageURL)
	}
}
