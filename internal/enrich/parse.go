package enrich

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/liftoff/internal/launch"
)

const (
	maxOverviewRunes = 300
	maxInsights      = 3
)

// ParseResponse extracts the enrichment object embedded in free-form model
// output. Only the text between the first '{' and the last '}' is parsed,
// so surrounding prose is tolerated. ok is false when no usable object is
// found.
func ParseResponse(text string) (launch.Enrichment, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return launch.Enrichment{}, false
	}

	var raw struct {
		Overview string   `json:"missionOverview"`
		Insights []string `json:"insights"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return launch.Enrichment{}, false
	}

	e := launch.Enrichment{
		Overview: truncateRunes(strings.TrimSpace(raw.Overview), maxOverviewRunes),
		Source:   launch.SourceReal,
	}
	for _, s := range raw.Insights {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		e.Insights = append(e.Insights, s)
		if len(e.Insights) == maxInsights {
			break
		}
	}
	if e.Overview == "" || len(e.Insights) == 0 {
		return launch.Enrichment{}, false
	}
	return e, true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
