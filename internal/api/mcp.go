package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/liftoff/internal/coordinator"
	"github.com/kalambet/liftoff/internal/launch"
)

const (
	defaultToolLimit = 10
	maxToolLimit     = 100
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Launches LaunchService
	Version  string
}

// NewMCPServer creates an MCP server exposing the launch working set.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"liftoff",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("liftoff: upcoming orbital launches with mission overviews."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_launches",
			mcp.WithDescription("List upcoming launches ordered by launch time."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of launches (default 10)")),
			mcp.WithBoolean("favorites_only", mcp.Description("Only return launches marked as favorite")),
		),
		mcpListLaunches(deps),
	)

	s.AddTool(
		mcp.NewTool("get_launch",
			mcp.WithDescription("Get one launch including its mission overview and insights."),
			mcp.WithString("id", mcp.Description("Launch id"), mcp.Required()),
		),
		mcpGetLaunch(deps),
	)

	s.AddTool(
		mcp.NewTool("refresh_launches",
			mcp.WithDescription("Synchronize launches with the provider."),
			mcp.WithBoolean("force", mcp.Description("Bypass the provider cache")),
		),
		mcpRefreshLaunches(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"launches://upcoming",
			"Upcoming Launches",
			mcp.WithResourceDescription("Current launch working set as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceUpcoming(deps),
	)

	return s
}

// launchSummary is the compact listing shape; get_launch returns full records.
type launchSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	NET      string `json:"net"`
	Provider string `json:"provider"`
	Location string `json:"location"`
	Status   string `json:"status,omitempty"`
	Enriched bool   `json:"enriched"`
	Favorite bool   `json:"favorite,omitempty"`
}

func summarize(r launch.Record) launchSummary {
	return launchSummary{
		ID:       r.ID,
		Name:     r.Name,
		NET:      r.NET.UTC().Format("2006-01-02T15:04:05Z"),
		Provider: r.Provider,
		Location: r.Location,
		Status:   r.Status,
		Enriched: r.HasEnrichment(),
		Favorite: r.Favorite,
	}
}

func mcpListLaunches(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", defaultToolLimit)
		if limit <= 0 {
			limit = defaultToolLimit
		}
		if limit > maxToolLimit {
			limit = maxToolLimit
		}
		favoritesOnly := req.GetBool("favorites_only", false)

		results := []launchSummary{}
		for _, r := range deps.Launches.Launches() {
			if favoritesOnly && !r.Favorite {
				continue
			}
			results = append(results, summarize(r))
			if len(results) == limit {
				break
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal launches: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetLaunch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil || id == "" {
			return mcpError("id is required"), nil
		}

		r, ok := deps.Launches.Get(id)
		if !ok {
			return mcpError(fmt.Sprintf("launch %q not found", id)), nil
		}

		b, err := json.Marshal(r)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal launch: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRefreshLaunches(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		force := req.GetBool("force", false)
		if err := deps.Launches.Sync(ctx, force); err != nil {
			if errors.Is(err, coordinator.ErrUnableToLoad) {
				return mcpError(coordinator.ErrUnableToLoad.Error()), nil
			}
			return mcpError(fmt.Sprintf("refresh failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Synchronized %d launches", len(deps.Launches.Launches()))), nil
	}
}

func mcpResourceUpcoming(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Launches.Launches())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal launches: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
