package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personabot/pbot/internal/composer"
	"github.com/personabot/pbot/internal/inference"
	"github.com/personabot/pbot/internal/memory"
	"github.com/personabot/pbot/internal/state"
	"github.com/personabot/pbot/internal/storage"
)

// scriptedLLM answers JSON-mode calls (emotional evaluation) with evalReply
// and plain calls (summaries and replies) per model.
type scriptedLLM struct {
	evalReply string
	evalErr   error
	failing   map[inference.Model]bool
	summary   string

	replies []inference.Model
	prompts [][]state.Turn
	evals   int
}

func (s *scriptedLLM) Complete(_ context.Context, turns []state.Turn, opts inference.Options) (string, error) {
	if opts.JSON {
		s.evals++
		return s.evalReply, s.evalErr
	}
	if strings.Contains(turns[0].Content, "generate content rich summaries") {
		return s.summary, nil
	}
	s.replies = append(s.replies, opts.Model)
	s.prompts = append(s.prompts, turns)
	if s.failing[opts.Model] {
		return "", fmt.Errorf("%s unavailable", opts.Model)
	}
	return "reply from " + string(opts.Model), nil
}

func vector(v float64) string {
	parts := make([]string, 0, 13)
	for _, e := range memory.Emotions() {
		parts = append(parts, fmt.Sprintf("%q: %v", e.String(), v))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func newTestGenerator(t *testing.T, llm *scriptedLLM) (*Generator, *memory.Manager) {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mem, err := memory.NewManager(store, llm, memory.Config{})
	require.NoError(t, err)
	t.Cleanup(mem.Close)

	ctx := context.Background()
	require.NoError(t, mem.SetActiveProfile(ctx, "Tabs"))
	require.NoError(t, mem.SetSystemPrompt(ctx, "Tabs", "You are Tabs. {{context}}"))

	return NewGenerator(mem, llm, composer.New("daniel"), Config{Temperature: 0.7}), mem
}

func TestRespond_DefaultModel(t *testing.T) {
	llm := &scriptedLLM{evalReply: vector(0.9)}
	g, mem := newTestGenerator(t, llm)
	ctx := context.Background()

	res := g.Respond(ctx, "hello")
	assert.Equal(t, "reply from llama3-70b-8192", res.Text)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, inference.Llama3_70B, res.Model)
	assert.NotContains(t, res.Text, "fallback model used")

	h, err := mem.History(ctx, "Tabs")
	require.NoError(t, err)
	assert.Equal(t, []state.Turn{state.UserTurn("hello"), state.AssistantTurn("reply from llama3-70b-8192")}, h)

	emo, _ := mem.EmotionalState(ctx, "Tabs")
	assert.Equal(t, 0.9, emo.Get(memory.Joy))
}

func staleEmotions(t *testing.T, mem *memory.Manager, v float64) {
	t.Helper()
	var s memory.EmotionalState
	for i := range s {
		s[i] = v
	}
	require.NoError(t, mem.SetEmotionalState(context.Background(), "Tabs", s))
}

func TestRespond_PromptCarriesFreshEmotions(t *testing.T) {
	llm := &scriptedLLM{evalReply: vector(0.9)}
	g, mem := newTestGenerator(t, llm)
	staleEmotions(t, mem, 0.1)

	g.Respond(context.Background(), "hello")

	require.Len(t, llm.prompts, 1)
	memoryBlock := llm.prompts[0][1]
	assert.Equal(t, state.RoleSystem, memoryBlock.Role)
	assert.Contains(t, memoryBlock.Content, `"joy": 0.9`)
	assert.NotContains(t, memoryBlock.Content, `"joy": 0.1`)
}

func TestRespond_PromptKeepsStoredEmotionsWhenEvaluationFails(t *testing.T) {
	llm := &scriptedLLM{evalErr: errors.New("evaluator down")}
	g, mem := newTestGenerator(t, llm)
	staleEmotions(t, mem, 0.1)

	res := g.Respond(context.Background(), "hello")
	assert.Equal(t, "reply from llama3-70b-8192", res.Text)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0][1].Content, `"joy": 0.1`)
}

func TestRespond_FallbackSuffix(t *testing.T) {
	llm := &scriptedLLM{
		evalReply: vector(0.5),
		failing:   map[inference.Model]bool{inference.Llama3_70B: true},
	}
	g, mem := newTestGenerator(t, llm)
	ctx := context.Background()

	res := g.Respond(ctx, "hello")
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "reply from mixtral-8x7b-32768\n\n-- fallback model used: mixtral-8x7b-32768 --\n\n", res.Text)

	h, _ := mem.History(ctx, "Tabs")
	require.Len(t, h, 2)
	assert.Equal(t, "reply from mixtral-8x7b-32768", h[1].Content, "stored reply carries no suffix")
}

func TestRespond_TertiaryFallback(t *testing.T) {
	llm := &scriptedLLM{
		evalReply: vector(0.5),
		failing:   map[inference.Model]bool{inference.Llama3_70B: true, inference.Mixtral8x7B: true},
	}
	g, _ := newTestGenerator(t, llm)

	res := g.Respond(context.Background(), "hello")
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, inference.Gemma7B, res.Model)
	assert.True(t, strings.HasSuffix(res.Text, "-- fallback model used: gemma-7b-it --\n\n"))
}

func TestRespond_RetryBoundAndNoPersist(t *testing.T) {
	llm := &scriptedLLM{
		evalReply: vector(0.5),
		failing: map[inference.Model]bool{
			inference.Llama3_70B: true, inference.Mixtral8x7B: true, inference.Gemma7B: true,
		},
	}
	g, mem := newTestGenerator(t, llm)
	ctx := context.Background()
	require.NoError(t, mem.SetHistory(ctx, "Tabs", []state.Turn{state.UserTurn("earlier")}))

	res := g.Respond(ctx, "hello")
	assert.Equal(t, MsgGenerationFailed, res.Text)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []inference.Model{inference.Llama3_70B, inference.Mixtral8x7B, inference.Gemma7B}, llm.replies)

	h, _ := mem.History(ctx, "Tabs")
	assert.Equal(t, []state.Turn{state.UserTurn("earlier")}, h)
}

func TestRespond_EvaluationFailureIsBestEffort(t *testing.T) {
	llm := &scriptedLLM{evalErr: errors.New("utility model down")}
	g, _ := newTestGenerator(t, llm)

	res := g.Respond(context.Background(), "hello")
	assert.Equal(t, "reply from llama3-70b-8192", res.Text)
	assert.Equal(t, 1, llm.evals)
}

func TestRespond_NoActiveProfile(t *testing.T) {
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	llm := &scriptedLLM{evalReply: vector(0.5)}
	mem, err := memory.NewManager(store, llm, memory.Config{})
	require.NoError(t, err)
	defer mem.Close()

	g := NewGenerator(mem, llm, composer.New(""), Config{})
	res := g.Respond(context.Background(), "hello")
	assert.Equal(t, MsgNoActiveProfile, res.Text)
	assert.Empty(t, llm.replies)
}

func TestRespond_CompactsAtThreshold(t *testing.T) {
	llm := &scriptedLLM{evalReply: vector(0.5), summary: "the summary"}
	g, mem := newTestGenerator(t, llm)
	ctx := context.Background()

	history := make([]state.Turn, 12)
	for i := range history {
		history[i] = state.UserTurn(fmt.Sprint(i))
	}
	require.NoError(t, mem.SetHistory(ctx, "Tabs", history))

	res := g.Respond(ctx, "hello")
	assert.True(t, res.Compacted)

	h, _ := mem.History(ctx, "Tabs")
	assert.Empty(t, h)
	raw, _ := mem.RawContext(ctx, "Tabs")
	assert.Equal(t, "the summary", raw)
}

func TestRespond_BelowThresholdAppends(t *testing.T) {
	llm := &scriptedLLM{evalReply: vector(0.5), summary: "the summary"}
	g, mem := newTestGenerator(t, llm)
	ctx := context.Background()

	history := make([]state.Turn, 11)
	for i := range history {
		history[i] = state.UserTurn(fmt.Sprint(i))
	}
	require.NoError(t, mem.SetHistory(ctx, "Tabs", history))

	res := g.Respond(ctx, "hello")
	assert.False(t, res.Compacted)
	h, _ := mem.History(ctx, "Tabs")
	assert.Len(t, h, 13)
}

// brokenMemory fails the read named by failOn.
type brokenMemory struct {
	failOn string
	calls  []string
}

var errBroken = errors.New("store unavailable")

func (b *brokenMemory) fail(op string) error {
	b.calls = append(b.calls, op)
	if b.failOn == op {
		return errBroken
	}
	return nil
}

func (b *brokenMemory) ActiveProfile(context.Context) (string, error) {
	return "Tabs", b.fail("profile")
}
func (b *brokenMemory) Context(context.Context, string) (string, error) {
	return "", b.fail("context")
}
func (b *brokenMemory) EmotionalState(context.Context, string) (memory.EmotionalState, error) {
	return memory.DefaultEmotionalState(), b.fail("emotions")
}
func (b *brokenMemory) History(context.Context, string) ([]state.Turn, error) {
	return nil, b.fail("history")
}
func (b *brokenMemory) SystemPrompt(context.Context, string) (string, error) {
	return "", b.fail("prompt")
}
func (b *brokenMemory) EvaluateEmotionalState(context.Context, string, []state.Turn) (memory.EmotionalState, error) {
	return memory.DefaultEmotionalState(), b.fail("evaluate")
}
func (b *brokenMemory) CompactIfNeeded(context.Context, string, []state.Turn) (bool, error) {
	return false, b.fail("persist")
}

func TestRespond_ReadFailures(t *testing.T) {
	tests := []struct {
		failOn string
		want   string
	}{
		{"profile", MsgProfileError},
		{"context", MsgContextError},
		{"emotions", MsgEmotionsError},
		{"history", MsgHistoryError},
		{"prompt", MsgSystemPromptError},
	}
	for _, tt := range tests {
		t.Run(tt.failOn, func(t *testing.T) {
			llm := &scriptedLLM{}
			mem := &brokenMemory{failOn: tt.failOn}
			g := NewGenerator(mem, llm, composer.New(""), Config{})

			res := g.Respond(context.Background(), "hello")
			assert.Equal(t, tt.want, res.Text)
			assert.Empty(t, llm.replies, "no generation after a failed read")
			assert.NotContains(t, mem.calls, "persist")
		})
	}
}

func TestRespond_PersistFailureStillReplies(t *testing.T) {
	llm := &scriptedLLM{}
	mem := &brokenMemory{failOn: "persist"}
	g := NewGenerator(mem, llm, composer.New(""), Config{})

	res := g.Respond(context.Background(), "hello")
	assert.Equal(t, "reply from llama3-70b-8192", res.Text)
}

func TestNewGenerator_CustomChain(t *testing.T) {
	llm := &scriptedLLM{failing: map[inference.Model]bool{"a": true}}
	g := NewGenerator(&brokenMemory{}, llm, composer.New(""), Config{Models: []inference.Model{"a", "b"}})

	res := g.Respond(context.Background(), "hi")
	assert.Equal(t, inference.Model("b"), res.Model)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, []inference.Model{"a", "b"}, llm.replies)
}
