package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/personabot/pbot/internal/storage"
	"github.com/personabot/pbot/internal/worker"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store, *fakeMemory) {
	t.Helper()
	store := openTestStore(t)
	mem := newFakeMemory()
	return MCPDeps{
		Memory:        mem,
		Jobs:          store,
		Recent:        store,
		DefaultChatID: "123",
	}, store, mem
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

func TestMCPTool_SendMessage(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	handler := mcpSendMessage(deps)

	result, err := handler(context.Background(), makeCallToolRequest("send_message", map[string]interface{}{
		"text": "good morning",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	jobs, err := store.RecentJobs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Type != worker.TypeOutboundMessage {
		t.Fatalf("jobs = %+v", jobs)
	}
	var p worker.OutboundPayload
	if err := json.Unmarshal([]byte(jobs[0].PayloadJSON), &p); err != nil {
		t.Fatal(err)
	}
	if p != (worker.OutboundPayload{ChatID: "123", Text: "good morning"}) {
		t.Errorf("payload = %+v", p)
	}
}

func TestMCPTool_SendMessage_ExplicitChat(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	deps.DefaultChatID = ""

	result, _ := mcpSendMessage(deps)(context.Background(), makeCallToolRequest("send_message", map[string]interface{}{"text": "hi"}))
	if !result.IsError {
		t.Error("expected an error without chat_id or default")
	}

	result, _ = mcpSendMessage(deps)(context.Background(), makeCallToolRequest("send_message", map[string]interface{}{"text": "hi", "chat_id": "77"}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "chat 77") {
		t.Errorf("result = %s", toolText(t, result))
	}
	jobs, _ := store.RecentJobs(context.Background(), 10)
	if len(jobs) != 1 {
		t.Errorf("queued %d jobs, want 1", len(jobs))
	}
}

func TestMCPTool_SendMessage_RequiresText(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	result, _ := mcpSendMessage(deps)(context.Background(), makeCallToolRequest("send_message", map[string]interface{}{}))
	if !result.IsError {
		t.Error("expected error for missing text")
	}
}

func TestMCPTool_GetProfileState(t *testing.T) {
	deps, _, mem := newTestMCPDeps(t)
	handler := mcpGetProfileState(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("get_profile_state", nil))
	if !result.IsError || toolText(t, result) != "no active profile" {
		t.Errorf("result = %+v", result)
	}

	mem.active = "Tabs"
	mem.context["Tabs"] = "summary"
	result, _ = handler(context.Background(), makeCallToolRequest("get_profile_state", nil))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var st ProfileState
	if err := json.Unmarshal([]byte(toolText(t, result)), &st); err != nil {
		t.Fatal(err)
	}
	if st.Name != "Tabs" || !st.Active || st.Context != "summary" {
		t.Errorf("state = %+v", st)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("get_profile_state", map[string]interface{}{"name": "Nova"}))
	if err := json.Unmarshal([]byte(toolText(t, result)), &st); err != nil {
		t.Fatal(err)
	}
	if st.Name != "Nova" || st.Active {
		t.Errorf("state = %+v", st)
	}
}

func TestMCPTool_SetSystemPrompt(t *testing.T) {
	deps, _, mem := newTestMCPDeps(t)
	handler := mcpSetSystemPrompt(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("set_system_prompt", map[string]interface{}{
		"name": "Tabs", "prompt": " You are Tabs. ",
	}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if mem.prompts["Tabs"] != "You are Tabs." {
		t.Errorf("prompt = %q", mem.prompts["Tabs"])
	}

	result, _ = handler(context.Background(), makeCallToolRequest("set_system_prompt", map[string]interface{}{"name": "Tabs"}))
	if !result.IsError {
		t.Error("expected error for missing prompt")
	}

	mem.err = errors.New("db locked")
	result, _ = handler(context.Background(), makeCallToolRequest("set_system_prompt", map[string]interface{}{"name": "Tabs", "prompt": "x"}))
	if !result.IsError || !strings.Contains(toolText(t, result), "db locked") {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPResource_RecentJobs(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	if err := store.EnqueueJob(context.Background(), storage.Job{ID: "j1", Type: worker.TypeChatMessage, PayloadJSON: "{}"}); err != nil {
		t.Fatal(err)
	}

	contents, err := mcpResourceRecentJobs(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "pbot://jobs/recent"},
	})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if !strings.Contains(tc.Text, `"id":"j1"`) {
		t.Errorf("resource = %s", tc.Text)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	if NewMCPServer(deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
