package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/personabot/pbot/internal/inference"
	"github.com/personabot/pbot/internal/memory"
	"github.com/personabot/pbot/internal/state"
	"github.com/personabot/pbot/internal/storage"
)

const maxPromptBodySize = 1 << 20

// ProfileMemory is the part of memory.Manager the admin surfaces use.
type ProfileMemory interface {
	ActiveProfile(ctx context.Context) (string, error)
	RawContext(ctx context.Context, name string) (string, error)
	History(ctx context.Context, name string) ([]state.Turn, error)
	EmotionalState(ctx context.Context, name string) (memory.EmotionalState, error)
	SystemPrompt(ctx context.Context, name string) (string, error)
	SetSystemPrompt(ctx context.Context, name, prompt string) error
}

// JobLister lists recent background jobs.
type JobLister interface {
	RecentJobs(ctx context.Context, limit int) ([]storage.Job, error)
}

// KeyLister lists state keys by prefix.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ProfileList names every profile with a stored system prompt.
type ProfileList struct {
	Active   string   `json:"active"`
	Profiles []string `json:"profiles"`
}

// ProfileState is a read-only view of one profile.
type ProfileState struct {
	Name         string                `json:"name"`
	Active       bool                  `json:"active"`
	Context      string                `json:"context"`
	HistoryTurns int                   `json:"history_turns"`
	Emotions     memory.EmotionalState `json:"emotions"`
	HasPrompt    bool                  `json:"has_prompt"`
}

func loadProfileState(ctx context.Context, mem ProfileMemory, name string) (ProfileState, error) {
	active, err := mem.ActiveProfile(ctx)
	if err != nil {
		return ProfileState{}, err
	}
	if name == "" {
		name = active
	}
	st := ProfileState{Name: name, Active: name != "" && name == active}
	if name == "" {
		return st, nil
	}

	if st.Context, err = mem.RawContext(ctx, name); err != nil {
		return ProfileState{}, err
	}
	history, err := mem.History(ctx, name)
	if err != nil {
		return ProfileState{}, err
	}
	st.HistoryTurns = len(history)
	if st.Emotions, err = mem.EmotionalState(ctx, name); err != nil {
		return ProfileState{}, err
	}
	prompt, err := mem.SystemPrompt(ctx, name)
	if err != nil {
		return ProfileState{}, err
	}
	st.HasPrompt = prompt != ""
	return st, nil
}

// AdminDeps holds the dependencies of the admin API.
type AdminDeps struct {
	Memory ProfileMemory
	Store  state.Store
	Jobs   JobLister
	Keys   KeyLister
	Token  string
}

// NewAdminHandler returns the bearer-protected admin API.
func NewAdminHandler(deps AdminDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/profile", handleGetProfile(deps))
	r.Get("/profiles", handleListProfiles(deps))
	r.Get("/profiles/{name}", handleGetProfile(deps))
	r.Put("/profiles/{name}/prompt", handlePutPrompt(deps))
	r.Get("/usage", handleUsage(deps))
	r.Get("/jobs", handleListJobs(deps))

	return r
}

func handleListProfiles(deps AdminDeps) http.HandlerFunc {
	prefix := state.SystemPromptKey("")
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := deps.Keys.Keys(r.Context(), prefix)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list profiles: %v", err)
			return
		}
		active, err := deps.Memory.ActiveProfile(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load active profile: %v", err)
			return
		}

		list := ProfileList{Active: active, Profiles: make([]string, 0, len(keys))}
		for _, k := range keys {
			list.Profiles = append(list.Profiles, strings.TrimPrefix(k, prefix))
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleGetProfile(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := loadProfileState(r.Context(), deps.Memory, chi.URLParam(r, "name"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// handlePutPrompt accepts the template either as {"prompt": "..."} or as a
// plain text body.
func handlePutPrompt(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxPromptBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}

		prompt := string(body)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var req struct {
				Prompt string `json:"prompt"`
			}
			if err := json.Unmarshal(body, &req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
			prompt = req.Prompt
		}
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}

		name := chi.URLParam(r, "name")
		if err := deps.Memory.SetSystemPrompt(r.Context(), name, prompt); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store prompt: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleUsage(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok, err := inference.LastUsage(r.Context(), deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read usage: %v", err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no completions recorded yet")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

type jobView struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	CreatedAt string `json:"created_at"`
	LastError string `json:"last_error,omitempty"`
}

func jobViews(jobs []storage.Job) []jobView {
	out := make([]jobView, len(jobs))
	for i, j := range jobs {
		out[i] = jobView{
			ID:        j.ID,
			Type:      j.Type,
			Status:    j.Status,
			Attempts:  j.Attempts,
			CreatedAt: j.CreatedAt.Format(time.RFC3339),
			LastError: j.LastError,
		}
	}
	return out
}

func handleListJobs(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, 200)
		}

		jobs, err := deps.Jobs.RecentJobs(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, jobViews(jobs))
	}
}
