// Package inference is the single entry point for chat completions. It maps
// conversation turns onto the configured backend and records token usage.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/personabot/pbot/internal/engine"
	"github.com/personabot/pbot/internal/state"
)

var (
	// ErrEmptyCompletion is returned when the backend answers with no content.
	ErrEmptyCompletion = errors.New("empty completion")
	// ErrStreamingUnsupported is returned for Options.Stream.
	ErrStreamingUnsupported = errors.New("streaming completions are not supported")
)

// Options tune one completion.
type Options struct {
	Model       Model
	Temperature float64
	// JSON constrains the reply to a JSON object.
	JSON   bool
	Stream bool
}

// UsageRecord is the value stored under state.KeyLastTokenCount.
type UsageRecord struct {
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	At               time.Time `json:"at"`
}

// Gateway wraps a backend. The zero value is not usable; use New.
type Gateway struct {
	backend engine.Backend
	store   state.Store
	now     func() time.Time
}

// New returns a Gateway. store may be nil, in which case usage is not recorded.
func New(backend engine.Backend, store state.Store) *Gateway {
	return &Gateway{backend: backend, store: store, now: time.Now}
}

// Complete sends turns to the backend and returns the reply text.
func (g *Gateway) Complete(ctx context.Context, turns []state.Turn, opts Options) (string, error) {
	if opts.Stream {
		return "", ErrStreamingUnsupported
	}

	msgs := make([]engine.Message, len(turns))
	for i, t := range turns {
		msgs[i] = engine.Message{Role: string(t.Role), Content: t.Content}
	}

	resp, err := g.backend.Complete(ctx, engine.Request{
		Model:       string(opts.Model),
		Messages:    msgs,
		Temperature: opts.Temperature,
		JSON:        opts.JSON,
	})
	if err != nil {
		return "", fmt.Errorf("completing with %s: %w", opts.Model, err)
	}
	if resp.Content == "" {
		return "", fmt.Errorf("completing with %s: %w", opts.Model, ErrEmptyCompletion)
	}

	g.recordUsage(ctx, opts.Model, resp)
	return resp.Content, nil
}

func (g *Gateway) recordUsage(ctx context.Context, model Model, resp engine.Response) {
	if g.store == nil {
		return
	}
	name := resp.Model
	if name == "" {
		name = string(model)
	}
	rec := UsageRecord{
		Model:            name,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		At:               g.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := g.store.Set(ctx, state.KeyLastTokenCount, string(data)); err != nil {
		slog.Warn("recording token usage", "model", name, "error", err)
	}
}

// LastUsage reads the most recent usage record. ok is false if none was stored.
func LastUsage(ctx context.Context, store state.Store) (rec UsageRecord, ok bool, err error) {
	raw, ok, err := store.Get(ctx, state.KeyLastTokenCount)
	if err != nil || !ok {
		return UsageRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return UsageRecord{}, false, fmt.Errorf("decoding usage record: %w", err)
	}
	return rec, true, nil
}
