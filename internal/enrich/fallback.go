package enrich

import (
	"fmt"
	"strings"

	"github.com/kalambet/liftoff/internal/launch"
)

const (
	fallbackRocketPrefix   = "Rocket: "
	fallbackSitePrefix     = "Launch site: "
	fallbackMissionPrefix  = "Mission: "
	fallbackOverviewFormat = "%s is scheduled to fly the %s mission on a %s from %s."
)

// Fallback builds an enrichment purely from rec's own fields. The output is
// a fixed template, so the same record always yields the same text and
// IsFallback can recognise its shape later.
func Fallback(rec launch.Record) launch.Enrichment {
	mission := missionName(rec)
	return launch.Enrichment{
		Overview: fmt.Sprintf(fallbackOverviewFormat, rec.Provider, mission, rec.Rocket, rec.Location),
		Insights: []string{
			fallbackRocketPrefix + rec.Rocket + ", operated by " + rec.Provider + ".",
			fallbackSitePrefix + rec.Location + ".",
			fallbackMissionPrefix + mission + ".",
		},
		Source: launch.SourceFallback,
	}
}

// IsFallback reports whether rec's narrative was produced by Fallback.
// Records carry no provenance field, so detection matches the template's
// fixed frame rather than its text. The frame survives renames of the
// record, which the exact text would not.
func IsFallback(rec launch.Record) bool {
	if rec.Overview == "" && len(rec.Insights) == 0 {
		return false
	}
	return fallbackOverview(rec.Overview) || fallbackInsights(rec.Insights)
}

// fallbackOverviewFrame is fallbackOverviewFormat split at its verbs.
var fallbackOverviewFrame = []string{" is scheduled to fly the ", " mission on a ", " from "}

func fallbackOverview(s string) bool {
	if !strings.HasSuffix(s, ".") {
		return false
	}
	rest := s
	for _, part := range fallbackOverviewFrame {
		i := strings.Index(rest, part)
		if i < 0 {
			return false
		}
		rest = rest[i+len(part):]
	}
	return true
}

func fallbackInsights(insights []string) bool {
	prefixes := []string{fallbackRocketPrefix, fallbackSitePrefix, fallbackMissionPrefix}
	if len(insights) != len(prefixes) {
		return false
	}
	for i, p := range prefixes {
		if !strings.HasPrefix(insights[i], p) || !strings.HasSuffix(insights[i], ".") {
			return false
		}
	}
	return strings.Contains(insights[0], ", operated by ")
}

func missionName(rec launch.Record) string {
	if rec.Mission != "" {
		return rec.Mission
	}
	return rec.Name
}
