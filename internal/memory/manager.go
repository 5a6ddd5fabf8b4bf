// Package memory manages per-profile conversation state: the active profile
// pointer, turn history, the rolling context summary, the emotional-state
// vector and the provisioned system prompt.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/personabot/pbot/internal/inference"
	"github.com/personabot/pbot/internal/state"
)

// DefaultCompactionThreshold is the history length at which CompactIfNeeded
// folds the history into the context summary.
const DefaultCompactionThreshold = 14

const (
	defaultPromptTTL   = 60 * time.Second
	utilityTemperature = 0.2
)

// ErrEmptyHistory is returned by Summarize when there is nothing to summarize.
var ErrEmptyHistory = errors.New("conversation history is empty")

// Completer is the subset of inference.Gateway the manager needs.
type Completer interface {
	Complete(ctx context.Context, turns []state.Turn, opts inference.Options) (string, error)
}

// Config tunes a Manager. Zero fields take defaults.
type Config struct {
	// UtilityModel serves summaries and emotional evaluation.
	UtilityModel inference.Model
	// CompactionThreshold is the turn count that triggers compaction.
	CompactionThreshold int
	// Language is the language summaries are written in.
	Language string
	// PromptTTL bounds how long a system prompt is served from cache.
	PromptTTL time.Duration
}

// Manager reads and writes profile state through a state.Store.
//
// Manager does not serialize access per profile: two concurrent requests for
// the same profile both read, then both write, and the later write wins.
type Manager struct {
	store state.Store
	llm   Completer
	cfg   Config

	prompts *ristretto.Cache
}

// NewManager creates a Manager. llm may be nil for callers that never
// summarize or evaluate (provisioning tools).
func NewManager(store state.Store, llm Completer, cfg Config) (*Manager, error) {
	if cfg.UtilityModel == "" {
		cfg.UtilityModel = inference.DefaultUtility
	}
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = DefaultCompactionThreshold
	}
	if cfg.Language == "" {
		cfg.Language = "English"
	}
	if cfg.PromptTTL <= 0 {
		cfg.PromptTTL = defaultPromptTTL
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     8 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating prompt cache: %w", err)
	}
	return &Manager{store: store, llm: llm, cfg: cfg, prompts: cache}, nil
}

// Close releases the prompt cache.
func (m *Manager) Close() {
	m.prompts.Close()
}

// Threshold returns the configured compaction threshold.
func (m *Manager) Threshold() int { return m.cfg.CompactionThreshold }

// ActiveProfile returns the active profile name, or "" if none was ever set.
func (m *Manager) ActiveProfile(ctx context.Context) (string, error) {
	name, _, err := m.store.Get(ctx, state.KeyCurrentProfile)
	if err != nil {
		return "", fmt.Errorf("reading active profile: %w", err)
	}
	return name, nil
}

// SetActiveProfile makes name the active profile.
func (m *Manager) SetActiveProfile(ctx context.Context, name string) error {
	if err := m.store.Set(ctx, state.KeyCurrentProfile, name); err != nil {
		return fmt.Errorf("setting active profile: %w", err)
	}
	return nil
}

// History returns the stored turns for name, or an empty slice.
func (m *Manager) History(ctx context.Context, name string) ([]state.Turn, error) {
	raw, ok, err := m.store.Get(ctx, state.HistoryKey(name))
	if err != nil {
		return nil, fmt.Errorf("reading history for %s: %w", name, err)
	}
	turns := []state.Turn{}
	if !ok || raw == "" {
		return turns, nil
	}
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("decoding history for %s: %w", name, err)
	}
	return turns, nil
}

// SetHistory replaces the stored turns for name.
func (m *Manager) SetHistory(ctx context.Context, name string, turns []state.Turn) error {
	if turns == nil {
		turns = []state.Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := m.store.Set(ctx, state.HistoryKey(name), string(data)); err != nil {
		return fmt.Errorf("writing history for %s: %w", name, err)
	}
	return nil
}

// RawContext returns the stored summary for name, or "".
func (m *Manager) RawContext(ctx context.Context, name string) (string, error) {
	summary, _, err := m.store.Get(ctx, state.ContextKey(name))
	if err != nil {
		return "", fmt.Errorf("reading context for %s: %w", name, err)
	}
	return summary, nil
}

// Context returns the stored summary wrapped in the previous-conversations
// block, or "" when no summary is stored.
func (m *Manager) Context(ctx context.Context, name string) (string, error) {
	summary, err := m.RawContext(ctx, name)
	if err != nil || summary == "" {
		return "", err
	}
	return fmt.Sprintf(contextBlock, summary), nil
}

// SetContext overwrites the stored summary for name.
func (m *Manager) SetContext(ctx context.Context, name, summary string) error {
	if err := m.store.Set(ctx, state.ContextKey(name), summary); err != nil {
		return fmt.Errorf("writing context for %s: %w", name, err)
	}
	return nil
}

// Reset clears both the context summary and the history of name.
func (m *Manager) Reset(ctx context.Context, name string) error {
	if err := m.SetContext(ctx, name, ""); err != nil {
		return err
	}
	return m.SetHistory(ctx, name, nil)
}

// EmotionalState returns the stored vector for name. A missing or unreadable
// vector yields DefaultEmotionalState.
func (m *Manager) EmotionalState(ctx context.Context, name string) (EmotionalState, error) {
	raw, ok, err := m.store.Get(ctx, state.EmotionsKey(name))
	if err != nil {
		return EmotionalState{}, fmt.Errorf("reading emotional state for %s: %w", name, err)
	}
	if !ok || raw == "" {
		return DefaultEmotionalState(), nil
	}
	s, err := ParseEmotionalState(raw)
	if err != nil {
		slog.Warn("stored emotional state unreadable, using default", "profile", name, "error", err)
		return DefaultEmotionalState(), nil
	}
	return s, nil
}

// SetEmotionalState stores s for name.
func (m *Manager) SetEmotionalState(ctx context.Context, name string, s EmotionalState) error {
	data, _ := s.MarshalJSON()
	if err := m.store.Set(ctx, state.EmotionsKey(name), string(data)); err != nil {
		return fmt.Errorf("writing emotional state for %s: %w", name, err)
	}
	return nil
}

// EvaluateEmotionalState asks the utility model which emotional state the
// persona should adopt given history, stores the result and returns it.
// Output that is not a complete vector stores and returns the default vector.
// A backend failure leaves the stored vector untouched and returns the error.
func (m *Manager) EvaluateEmotionalState(ctx context.Context, name string, history []state.Turn) (EmotionalState, error) {
	if m.llm == nil {
		return EmotionalState{}, errors.New("no completion backend configured")
	}
	raw, err := m.llm.Complete(ctx, evaluatePrompt(history), inference.Options{
		Model:       m.cfg.UtilityModel,
		Temperature: utilityTemperature,
		JSON:        true,
	})
	if err != nil {
		return EmotionalState{}, fmt.Errorf("evaluating emotional state: %w", err)
	}

	s, err := ParseEmotionalState(raw)
	if err != nil {
		slog.Warn("evaluator returned malformed emotional state", "profile", name, "error", err, "response", raw)
		s = DefaultEmotionalState()
	}
	if err := m.SetEmotionalState(ctx, name, s); err != nil {
		return EmotionalState{}, err
	}
	return s, nil
}

// Summarize returns an assistant-perspective summary of turns with a title,
// the summary body and searchable keywords.
func (m *Manager) Summarize(ctx context.Context, name string, turns []state.Turn) (string, error) {
	if len(turns) == 0 {
		return "", ErrEmptyHistory
	}
	if m.llm == nil {
		return "", errors.New("no completion backend configured")
	}
	summary, err := m.llm.Complete(ctx, summarizePrompt(turns, m.cfg.Language), inference.Options{
		Model:       m.cfg.UtilityModel,
		Temperature: utilityTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("summarizing %s: %w", name, err)
	}
	return strings.TrimSpace(summary), nil
}

// CompactIfNeeded persists turns as the history of name. When turns reach
// the compaction threshold they are summarized into the context instead and
// the history is emptied. If summarization fails, turns are stored as they
// are so the next request retries, and the error is returned.
func (m *Manager) CompactIfNeeded(ctx context.Context, name string, turns []state.Turn) (bool, error) {
	if len(turns) < m.cfg.CompactionThreshold {
		return false, m.SetHistory(ctx, name, turns)
	}

	summary, err := m.Summarize(ctx, name, turns)
	if err != nil {
		// History stays at or above the threshold until a summary succeeds.
		// Trimming it instead would lose turns that no summary has captured.
		if serr := m.SetHistory(ctx, name, turns); serr != nil {
			return false, errors.Join(err, serr)
		}
		return false, err
	}

	if err := m.SetContext(ctx, name, summary); err != nil {
		return false, err
	}
	if err := m.SetHistory(ctx, name, nil); err != nil {
		return false, err
	}
	slog.Info("conversation compacted", "profile", name, "turns", len(turns))
	return true, nil
}

// SystemPrompt returns the provisioned prompt template for name, or "".
func (m *Manager) SystemPrompt(ctx context.Context, name string) (string, error) {
	key := state.SystemPromptKey(name)
	if v, ok := m.prompts.Get(key); ok {
		return v.(string), nil
	}

	prompt, _, err := m.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("reading system prompt for %s: %w", name, err)
	}
	m.prompts.SetWithTTL(key, prompt, int64(len(prompt))+1, m.cfg.PromptTTL)
	return prompt, nil
}

// SetSystemPrompt stores the prompt template for name and drops any cached copy.
func (m *Manager) SetSystemPrompt(ctx context.Context, name, prompt string) error {
	key := state.SystemPromptKey(name)
	if err := m.store.Set(ctx, key, prompt); err != nil {
		return fmt.Errorf("writing system prompt for %s: %w", name, err)
	}
	m.prompts.Del(key)
	m.prompts.Wait()
	return nil
}
