package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/kalambet/liftoff/internal/launch"
)

var (
	errMissingID  = errors.New("missing id")
	errMissingNET = errors.New("missing or invalid net")
)

// convertResults turns a page of raw results into domain records. Entries
// that cannot be identified or scheduled are dropped and logged; every
// other absence degrades to a placeholder.
func convertResults(raw []json.RawMessage, logger *slog.Logger) []launch.Record {
	out := make([]launch.Record, 0, len(raw))
	for i, item := range raw {
		rec, err := convertLaunch(item)
		if err != nil {
			logger.Warn("gateway: dropping launch record", "index", i, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func convertLaunch(raw json.RawMessage) (launch.Record, error) {
	w, err := decodeLaunch(raw)
	if err != nil {
		return launch.Record{}, err
	}
	if strings.TrimSpace(w.ID) == "" {
		return launch.Record{}, errMissingID
	}
	net, err := time.Parse(time.RFC3339, strings.TrimSpace(w.NET))
	if err != nil {
		return launch.Record{}, fmt.Errorf("%w: %q", errMissingNET, w.NET)
	}

	rec := launch.Record{
		ID:       w.ID,
		Name:     orUnknown(w.Name),
		NET:      net.UTC(),
		Provider: launch.Unknown,
		Location: launch.Unknown,
		Rocket:   launch.Unknown,
		ImageURL: w.Image.URL,
	}
	if w.Provider != nil {
		rec.Provider = orUnknown(w.Provider.Name)
	}
	if w.Rocket != nil && w.Rocket.Configuration != nil {
		name := w.Rocket.Configuration.Name
		if name == "" {
			name = w.Rocket.Configuration.FullName
		}
		rec.Rocket = orUnknown(name)
	}
	if w.Mission != nil {
		rec.Mission = strings.TrimSpace(w.Mission.Name)
	}
	if w.Status != nil {
		rec.Status = strings.TrimSpace(w.Status.Name)
	}
	if w.Pad != nil {
		switch {
		case w.Pad.Location != nil && strings.TrimSpace(w.Pad.Location.Name) != "":
			rec.Location = strings.TrimSpace(w.Pad.Location.Name)
		case strings.TrimSpace(w.Pad.Name) != "":
			rec.Location = strings.TrimSpace(w.Pad.Name)
		}
		if w.Pad.Latitude.Valid && w.Pad.Longitude.Valid {
			rec.Pad = &launch.Coordinates{
				Latitude:  w.Pad.Latitude.Value,
				Longitude: w.Pad.Longitude.Value,
			}
		}
	}
	if p := w.Probability; p.Valid && p.Value >= 0 && p.Value <= 100 {
		v := int(math.Round(p.Value))
		rec.Probability = &v
	}
	return rec, nil
}

// decodeLaunch decodes each top-level field on its own so a field with an
// unexpected shape is skipped instead of failing its siblings.
func decodeLaunch(raw json.RawMessage) (wireLaunch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return wireLaunch{}, fmt.Errorf("decoding launch object: %w", err)
	}

	var w wireLaunch
	decodeField(fields, "id", &w.ID)
	decodeField(fields, "name", &w.Name)
	decodeField(fields, "net", &w.NET)
	decodeField(fields, "status", &w.Status)
	decodeField(fields, "launch_service_provider", &w.Provider)
	decodeField(fields, "rocket", &w.Rocket)
	decodeField(fields, "mission", &w.Mission)
	decodeField(fields, "pad", &w.Pad)
	decodeField(fields, "probability", &w.Probability)
	decodeField(fields, "image", &w.Image)
	return w, nil
}

func decodeField(fields map[string]json.RawMessage, key string, dst any) {
	v, ok := fields[key]
	if !ok {
		return
	}
	_ = json.Unmarshal(v, dst)
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return launch.Unknown
	}
	return s
}
