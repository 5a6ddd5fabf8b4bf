// Package pipeline turns a user message into a persona reply: it loads the
// active profile's memory, composes the prompt, walks the model fallback
// chain and persists the exchange.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/personabot/pbot/internal/composer"
	"github.com/personabot/pbot/internal/inference"
	"github.com/personabot/pbot/internal/memory"
	"github.com/personabot/pbot/internal/state"
)

// Fixed replies for each failure the user can see.
const (
	MsgProfileError      = "Error getting current profile."
	MsgContextError      = "Error getting conversation context."
	MsgEmotionsError     = "Error getting emotional state."
	MsgHistoryError      = "Error getting conversation history."
	MsgSystemPromptError = "Error getting system message."
	MsgNoActiveProfile   = "No active profile. Set one with !profile=<name>."
	MsgGenerationFailed  = "Failed to generate response"
)

// Memory is the part of memory.Manager the generator uses.
type Memory interface {
	ActiveProfile(ctx context.Context) (string, error)
	Context(ctx context.Context, name string) (string, error)
	EmotionalState(ctx context.Context, name string) (memory.EmotionalState, error)
	History(ctx context.Context, name string) ([]state.Turn, error)
	SystemPrompt(ctx context.Context, name string) (string, error)
	EvaluateEmotionalState(ctx context.Context, name string, history []state.Turn) (memory.EmotionalState, error)
	CompactIfNeeded(ctx context.Context, name string, turns []state.Turn) (bool, error)
}

// Config tunes a Generator.
type Config struct {
	// Models is the fallback chain; the first entry is the default model.
	// Fewer than three entries are padded with the built-in chain.
	Models      []inference.Model
	Temperature float64
}

// Result describes one Respond call.
type Result struct {
	Text         string
	Model        inference.Model
	FallbackUsed bool
	Attempts     int
	Compacted    bool
}

// Generator produces replies. It is safe for concurrent use, though
// concurrent calls for the same profile race on its stored state.
type Generator struct {
	mem    Memory
	llm    memory.Completer
	comp   *composer.Composer
	models [3]inference.Model
	temp   float64
}

// NewGenerator wires a Generator.
func NewGenerator(mem Memory, llm memory.Completer, comp *composer.Composer, cfg Config) *Generator {
	g := &Generator{
		mem:    mem,
		llm:    llm,
		comp:   comp,
		models: [3]inference.Model{inference.DefaultPrimary, inference.DefaultSecondary, inference.DefaultTertiary},
		temp:   cfg.Temperature,
	}
	for i := 0; i < len(g.models) && i < len(cfg.Models); i++ {
		if cfg.Models[i] != "" {
			g.models[i] = cfg.Models[i]
		}
	}
	return g
}

// Respond generates the persona's reply to text. It never returns an error:
// every failure maps to a fixed message in Result.Text.
func (g *Generator) Respond(ctx context.Context, text string) Result {
	name, err := g.mem.ActiveProfile(ctx)
	if err != nil {
		slog.Error("loading active profile", "error", err)
		return Result{Text: MsgProfileError}
	}
	if name == "" {
		return Result{Text: MsgNoActiveProfile}
	}

	wrapped, err := g.mem.Context(ctx, name)
	if err != nil {
		slog.Error("loading context", "profile", name, "error", err)
		return Result{Text: MsgContextError}
	}
	emotions, err := g.mem.EmotionalState(ctx, name)
	if err != nil {
		slog.Error("loading emotional state", "profile", name, "error", err)
		return Result{Text: MsgEmotionsError}
	}
	history, err := g.mem.History(ctx, name)
	if err != nil {
		slog.Error("loading history", "profile", name, "error", err)
		return Result{Text: MsgHistoryError}
	}

	if fresh, err := g.mem.EvaluateEmotionalState(ctx, name, history); err != nil {
		slog.Warn("emotional evaluation failed, using stored state", "profile", name, "error", err)
	} else {
		emotions = fresh
	}

	template, err := g.mem.SystemPrompt(ctx, name)
	if err != nil {
		slog.Error("loading system prompt", "profile", name, "error", err)
		return Result{Text: MsgSystemPromptError}
	}
	if template == "" {
		slog.Warn("profile has no system prompt", "profile", name)
	}

	prompt := g.comp.Compose(composer.Input{
		Template: template,
		Context:  wrapped,
		Emotions: emotions,
		Profile:  name,
		History:  history,
		Message:  text,
	})
	if prompt.Debug {
		slog.Info("debug mode requested", "profile", name)
	}

	reply, model, attempts, err := g.generate(ctx, prompt)
	if err != nil {
		slog.Error("all models failed", "profile", name, "attempts", attempts, "error", err)
		return Result{Text: MsgGenerationFailed, Attempts: attempts}
	}

	turns := make([]state.Turn, 0, len(history)+2)
	turns = append(turns, history...)
	turns = append(turns, state.UserTurn(text), state.AssistantTurn(reply))
	compacted, err := g.mem.CompactIfNeeded(ctx, name, turns)
	if err != nil {
		slog.Error("persisting conversation", "profile", name, "error", err)
	}

	res := Result{Text: reply, Model: model, Attempts: attempts, Compacted: compacted}
	if model != g.models[0] {
		res.FallbackUsed = true
		res.Text += fmt.Sprintf("\n\n-- fallback model used: %s --\n\n", model)
	}
	return res
}

// generate tries each model of the chain once, in order, with no delay.
func (g *Generator) generate(ctx context.Context, prompt composer.Prompt) (string, inference.Model, int, error) {
	var lastErr error
	for i, model := range g.models {
		if window := model.ContextWindow(); window > 0 && prompt.EstimatedTokens() > window {
			slog.Warn("prompt may exceed context window", "model", model, "estimated_tokens", prompt.EstimatedTokens(), "window", window)
		}
		reply, err := g.llm.Complete(ctx, prompt.Turns, inference.Options{Model: model, Temperature: g.temp})
		if err == nil {
			return reply, model, i + 1, nil
		}
		slog.Warn("model failed", "model", model, "attempt", i+1, "error", err)
		lastErr = err
	}
	return "", "", len(g.models), lastErr
}
