package enrich

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/liftoff/internal/launch"
	"github.com/kalambet/liftoff/internal/proxy"
)

const systemPrompt = `You write short briefings about upcoming rocket launches. Respond with ONLY a JSON object of the form {"missionOverview": string, "insights": [string]}.

Rules:
- missionOverview: at most 300 characters, plain prose, no markdown.
- insights: between 1 and 3 short, factual bullet points a spectator would find interesting.
- Do not invent dates or numbers that are not implied by the launch details.`

// BuildPrompt constructs the chat messages requesting a narrative for rec.
func BuildPrompt(rec launch.Record) []proxy.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Launch: %s\n", rec.Name)
	if rec.Mission != "" {
		fmt.Fprintf(&sb, "Mission: %s\n", rec.Mission)
	}
	fmt.Fprintf(&sb, "Provider: %s\n", rec.Provider)
	fmt.Fprintf(&sb, "Rocket: %s\n", rec.Rocket)
	fmt.Fprintf(&sb, "Location: %s\n", rec.Location)
	fmt.Fprintf(&sb, "NET: %s\n", rec.NET.UTC().Format(time.RFC3339))
	if rec.Status != "" {
		fmt.Fprintf(&sb, "Status: %s\n", rec.Status)
	}

	return []proxy.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: sb.String()},
	}
}
