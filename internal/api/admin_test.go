package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/personabot/pbot/internal/inference"
	"github.com/personabot/pbot/internal/memory"
	"github.com/personabot/pbot/internal/state"
	"github.com/personabot/pbot/internal/storage"
)

type fakeMemory struct {
	active  string
	context map[string]string
	history map[string][]state.Turn
	prompts map[string]string
	err     error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		context: map[string]string{},
		history: map[string][]state.Turn{},
		prompts: map[string]string{},
	}
}

func (f *fakeMemory) ActiveProfile(context.Context) (string, error) { return f.active, f.err }
func (f *fakeMemory) RawContext(_ context.Context, name string) (string, error) {
	return f.context[name], f.err
}
func (f *fakeMemory) History(_ context.Context, name string) ([]state.Turn, error) {
	return f.history[name], f.err
}
func (f *fakeMemory) EmotionalState(context.Context, string) (memory.EmotionalState, error) {
	return memory.DefaultEmotionalState(), f.err
}
func (f *fakeMemory) SystemPrompt(_ context.Context, name string) (string, error) {
	return f.prompts[name], f.err
}
func (f *fakeMemory) SetSystemPrompt(_ context.Context, name, prompt string) error {
	if f.err != nil {
		return f.err
	}
	f.prompts[name] = prompt
	return nil
}

func adminRequest(t *testing.T, h http.Handler, method, path, body, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-token")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_RequiresToken(t *testing.T) {
	h := NewAdminHandler(AdminDeps{Memory: newFakeMemory(), Token: "admin-token"})

	for _, auth := range []string{"", "Bearer wrong", "admin-token"} {
		req := httptest.NewRequest(http.MethodGet, "/profiles/Tabs", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, rec.Code)
		}
	}
}

func TestAdmin_EmptyTokenRejectsEverything(t *testing.T) {
	h := NewAdminHandler(AdminDeps{Memory: newFakeMemory()})
	req := httptest.NewRequest(http.MethodGet, "/profiles/Tabs", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAdmin_GetProfile(t *testing.T) {
	mem := newFakeMemory()
	mem.active = "Tabs"
	mem.context["Tabs"] = "we talked about cats"
	mem.history["Tabs"] = []state.Turn{state.UserTurn("hi"), state.AssistantTurn("hey")}
	mem.prompts["Tabs"] = "You are Tabs."
	h := NewAdminHandler(AdminDeps{Memory: mem, Token: "admin-token"})

	rec := adminRequest(t, h, http.MethodGet, "/profiles/Tabs", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var got ProfileState
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := ProfileState{
		Name:         "Tabs",
		Active:       true,
		Context:      "we talked about cats",
		HistoryTurns: 2,
		Emotions:     memory.DefaultEmotionalState(),
		HasPrompt:    true,
	}
	if got != want {
		t.Errorf("profile = %+v, want %+v", got, want)
	}
}

func TestAdmin_ListProfiles(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for k, v := range map[string]string{
		state.SystemPromptKey("Tabs"): "You are Tabs.",
		state.SystemPromptKey("Zoë"):  "You are Zoë.",
		state.HistoryKey("Ghost"):     "[]",
	} {
		if err := store.Set(ctx, k, v); err != nil {
			t.Fatal(err)
		}
	}
	mem := newFakeMemory()
	mem.active = "Tabs"
	h := NewAdminHandler(AdminDeps{Memory: mem, Keys: store, Token: "admin-token"})

	rec := adminRequest(t, h, http.MethodGet, "/profiles", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var got ProfileList
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Active != "Tabs" || strings.Join(got.Profiles, ",") != "Tabs,Zoë" {
		t.Errorf("profiles = %+v", got)
	}
}

func TestAdmin_GetActiveProfile(t *testing.T) {
	mem := newFakeMemory()
	mem.active = "Nova"
	h := NewAdminHandler(AdminDeps{Memory: mem, Token: "admin-token"})

	rec := adminRequest(t, h, http.MethodGet, "/profile", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var got ProfileState
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "Nova" || !got.Active {
		t.Errorf("profile = %+v, want the active profile Nova", got)
	}
}

func TestAdmin_GetProfileError(t *testing.T) {
	mem := newFakeMemory()
	mem.err = errors.New("db locked")
	h := NewAdminHandler(AdminDeps{Memory: mem, Token: "admin-token"})

	if rec := adminRequest(t, h, http.MethodGet, "/profiles/Tabs", "", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestAdmin_PutPrompt(t *testing.T) {
	mem := newFakeMemory()
	h := NewAdminHandler(AdminDeps{Memory: mem, Token: "admin-token"})

	rec := adminRequest(t, h, http.MethodPut, "/profiles/Tabs/prompt", "  You are Tabs. {{context}}\n", "text/plain")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if mem.prompts["Tabs"] != "You are Tabs. {{context}}" {
		t.Errorf("prompt = %q", mem.prompts["Tabs"])
	}

	rec = adminRequest(t, h, http.MethodPut, "/profiles/Nova/prompt", `{"prompt":"You are Nova."}`, "application/json")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if mem.prompts["Nova"] != "You are Nova." {
		t.Errorf("prompt = %q", mem.prompts["Nova"])
	}

	for _, tc := range []struct{ body, ct string }{
		{"   ", "text/plain"},
		{`{"prompt":""}`, "application/json"},
		{`{`, "application/json"},
	} {
		if rec := adminRequest(t, h, http.MethodPut, "/profiles/Tabs/prompt", tc.body, tc.ct); rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", tc.body, rec.Code)
		}
	}
}

func TestAdmin_Usage(t *testing.T) {
	store := openTestStore(t)
	h := NewAdminHandler(AdminDeps{Memory: newFakeMemory(), Store: store, Token: "admin-token"})

	if rec := adminRequest(t, h, http.MethodGet, "/usage", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("empty usage: status = %d, want 404", rec.Code)
	}

	want := inference.UsageRecord{Model: "llama3-70b-8192", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, At: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	raw, _ := json.Marshal(want)
	if err := store.Set(context.Background(), state.KeyLastTokenCount, string(raw)); err != nil {
		t.Fatal(err)
	}

	rec := adminRequest(t, h, http.MethodGet, "/usage", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got inference.UsageRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.At.Equal(want.At) || got.TotalTokens != 15 || got.Model != want.Model {
		t.Errorf("usage = %+v", got)
	}
}

func TestAdmin_Jobs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.EnqueueJob(ctx, storage.Job{ID: id, Type: "chat_message", PayloadJSON: "{}"}); err != nil {
			t.Fatal(err)
		}
	}
	h := NewAdminHandler(AdminDeps{Memory: newFakeMemory(), Jobs: store, Token: "admin-token"})

	rec := adminRequest(t, h, http.MethodGet, "/jobs?limit=2", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []jobView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d jobs, want 2", len(got))
	}

	if rec := adminRequest(t, h, http.MethodGet, "/jobs?limit=abc", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}
}
