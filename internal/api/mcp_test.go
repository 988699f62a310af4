package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/liftoff/internal/coordinator"
	"github.com/kalambet/liftoff/internal/launch"
	"github.com/kalambet/liftoff/internal/storage"
)

// --- mocks ---

type mockLaunches struct {
	mu       sync.Mutex
	records  []launch.Record
	syncErr  error
	flagsErr error
	syncs    int
	forced   bool
	last     storage.SyncRun
}

func (m *mockLaunches) Launches() []launch.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]launch.Record(nil), m.records...)
}

func (m *mockLaunches) Get(id string) (launch.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return r, true
		}
	}
	return launch.Record{}, false
}

func (m *mockLaunches) Sync(_ context.Context, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	m.forced = force
	return m.syncErr
}

func (m *mockLaunches) SetFlags(id string, f launch.Flags) (launch.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flagsErr != nil {
		return launch.Record{}, m.flagsErr
	}
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Favorite = f.Favorite
			m.records[i].NotificationsEnabled = f.NotificationsEnabled
			return m.records[i], nil
		}
	}
	return launch.Record{}, coordinator.ErrUnknownLaunch
}

func (m *mockLaunches) LastRun() storage.SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// --- helpers ---

func sampleLaunches(n int) *mockLaunches {
	base := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	m := &mockLaunches{}
	for i := 0; i < n; i++ {
		m.records = append(m.records, launch.Record{
			ID:       fmt.Sprintf("L%d", i),
			Name:     fmt.Sprintf("Launch %d", i),
			NET:      base.Add(time.Duration(i) * time.Hour),
			Provider: "SpaceX",
			Location: "Cape Canaveral",
			Rocket:   "Falcon 9",
		})
	}
	return m
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_ListLaunches(t *testing.T) {
	deps := MCPDeps{Launches: sampleLaunches(15)}
	handler := mcpListLaunches(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_launches", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var got []launchSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != defaultToolLimit {
		t.Fatalf("expected %d launches, got %d", defaultToolLimit, len(got))
	}
	if got[0].ID != "L0" || got[0].NET != "2026-11-01T12:00:00Z" {
		t.Errorf("unexpected first launch: %+v", got[0])
	}
	if got[0].Enriched {
		t.Error("launch without overview reported as enriched")
	}
}

func TestMCPTool_ListLaunches_FavoritesAndLimit(t *testing.T) {
	m := sampleLaunches(5)
	m.records[1].Favorite = true
	m.records[3].Favorite = true
	m.records[4].Favorite = true
	handler := mcpListLaunches(MCPDeps{Launches: m})

	result, err := handler(context.Background(), makeCallToolRequest("list_launches", map[string]interface{}{
		"favorites_only": true,
		"limit":          2,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []launchSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 || got[0].ID != "L1" || got[1].ID != "L3" {
		t.Fatalf("unexpected favorites: %+v", got)
	}
}

func TestMCPTool_ListLaunches_Empty(t *testing.T) {
	handler := mcpListLaunches(MCPDeps{Launches: &mockLaunches{}})

	result, err := handler(context.Background(), makeCallToolRequest("list_launches", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected [], got %s", text)
	}
}

func TestMCPTool_GetLaunch(t *testing.T) {
	m := sampleLaunches(2)
	m.records[1].Overview = "A rideshare mission."
	m.records[1].Insights = []string{"Booster lands downrange."}
	handler := mcpGetLaunch(MCPDeps{Launches: m})

	result, err := handler(context.Background(), makeCallToolRequest("get_launch", map[string]interface{}{"id": "L1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var got launch.Record
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Overview != "A rideshare mission." || len(got.Insights) != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMCPTool_GetLaunch_Errors(t *testing.T) {
	handler := mcpGetLaunch(MCPDeps{Launches: sampleLaunches(1)})

	result, _ := handler(context.Background(), makeCallToolRequest("get_launch", nil))
	if !result.IsError {
		t.Error("expected error for missing id")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("get_launch", map[string]interface{}{"id": "nope"}))
	if !result.IsError {
		t.Error("expected error for unknown id")
	}
	if !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("unexpected message: %s", toolText(t, result))
	}
}

func TestMCPTool_RefreshLaunches(t *testing.T) {
	m := sampleLaunches(3)
	handler := mcpRefreshLaunches(MCPDeps{Launches: m})

	result, err := handler(context.Background(), makeCallToolRequest("refresh_launches", map[string]interface{}{"force": true}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if m.syncs != 1 || !m.forced {
		t.Fatalf("syncs = %d, forced = %v", m.syncs, m.forced)
	}
	if text := toolText(t, result); text != "Synchronized 3 launches" {
		t.Errorf("unexpected text: %s", text)
	}
}

func TestMCPTool_RefreshLaunches_Unavailable(t *testing.T) {
	m := sampleLaunches(1)
	m.syncErr = fmt.Errorf("%w: %w", coordinator.ErrUnableToLoad, context.DeadlineExceeded)
	handler := mcpRefreshLaunches(MCPDeps{Launches: m})

	result, err := handler(context.Background(), makeCallToolRequest("refresh_launches", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if text := toolText(t, result); text != coordinator.ErrUnableToLoad.Error() {
		t.Errorf("unexpected text: %s", text)
	}
}

func TestMCPResource_Upcoming(t *testing.T) {
	handler := mcpResourceUpcoming(MCPDeps{Launches: sampleLaunches(2)})

	contents, err := handler(context.Background(), makeReadResourceRequest("launches://upcoming"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.MIMEType != "application/json" || tc.URI != "launches://upcoming" {
		t.Errorf("unexpected metadata: %+v", tc)
	}

	var got []launch.Record
	if err := json.Unmarshal([]byte(tc.Text), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps := MCPDeps{Launches: sampleLaunches(4)}
	listHandler := mcpListLaunches(deps)
	refreshHandler := mcpRefreshLaunches(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = listHandler(context.Background(), makeCallToolRequest("list_launches", nil))
			} else {
				_, err = refreshHandler(context.Background(), makeCallToolRequest("refresh_launches", nil))
			}
			if err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent call error: %v", err)
	}
}

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(MCPDeps{Launches: &mockLaunches{}}); s == nil {
		t.Fatal("expected server")
	}
}
