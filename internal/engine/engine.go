// Package engine contains the chat-completion backends the inference gateway
// can talk to: any OpenAI-compatible endpoint (Groq by default), a local
// Ollama server, Anthropic and Gemini.
package engine

import (
	"context"
	"fmt"
	"strings"
)

// Message is one chat turn in backend-neutral form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single non-streaming completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	// JSON asks the backend to constrain the reply to a JSON object.
	JSON bool
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the backend's reply.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Backend is a chat-completion provider.
type Backend interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Kinds accepted by New.
const (
	KindGroq      = "groq"
	KindOpenAI    = "openai"
	KindOllama    = "ollama"
	KindAnthropic = "anthropic"
	KindGemini    = "gemini"
)

// Config selects and configures a backend.
type Config struct {
	Kind    string
	BaseURL string
	APIKey  string
}

// New returns the backend named by cfg.Kind.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Kind) {
	case KindGroq, KindOpenAI, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s backend requires an API key", cfg.Kind)
		}
		return NewOpenAI(cfg.APIKey, cfg.BaseURL), nil
	case KindOllama:
		return NewOllama(cfg.BaseURL), nil
	case KindAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic backend requires an API key")
		}
		return NewAnthropic(cfg.APIKey, cfg.BaseURL), nil
	case KindGemini:
		return NewGemini(ctx, cfg.APIKey, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Kind)
	}
}

// splitSystem separates system turns from the conversation for APIs that take
// the system prompt out of band. Multiple system turns are joined by a blank line.
func splitSystem(msgs []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

const jsonInstruction = "Respond with a single valid JSON object and nothing else."
