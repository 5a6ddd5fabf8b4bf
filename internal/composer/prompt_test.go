package composer

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/personabot/pbot/internal/memory"
	"github.com/personabot/pbot/internal/state"
)

func fixedComposer(owner string) *Composer {
	c := New(owner)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestCompose_Layout(t *testing.T) {
	c := fixedComposer("daniel")
	history := []state.Turn{state.UserTurn("hi"), state.AssistantTurn("hello")}

	p := c.Compose(Input{
		Template: "You are {{profile}}, talking to {{owner}}.\n{{context}}",
		Context:  "CTX",
		Emotions: memory.DefaultEmotionalState(),
		Profile:  "Tabs",
		History:  history,
		Message:  "how are you?",
	})

	if p.Debug {
		t.Error("Debug set for a normal message")
	}
	if len(p.Turns) != 5 {
		t.Fatalf("got %d turns, want 5", len(p.Turns))
	}
	if diff := cmp.Diff(state.SystemTurn("You are Tabs, talking to daniel.\nCTX"), p.Turns[0]); diff != "" {
		t.Errorf("template turn (-want +got):\n%s", diff)
	}

	block := p.Turns[1]
	if block.Role != state.RoleSystem {
		t.Errorf("block role = %s", block.Role)
	}
	for _, want := range []string{
		"CTX\n\n-- current emotional state --\n{\n  \"joy\": 0.5,",
		"!newMessageFrom(daniel) at 2026-03-01T12:00:00Z",
		"-- init Tabs program --",
	} {
		if !strings.Contains(block.Content, want) {
			t.Errorf("memory block missing %q:\n%s", want, block.Content)
		}
	}

	if diff := cmp.Diff(history, p.Turns[2:4]); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(state.UserTurn("how are you?"), p.Turns[4]); diff != "" {
		t.Errorf("user turn (-want +got):\n%s", diff)
	}
}

func TestCompose_NoContext(t *testing.T) {
	p := fixedComposer("").Compose(Input{Template: "T {{context}}", Profile: "Tabs", Message: "x"})
	if p.Turns[0].Content != "T " {
		t.Errorf("template = %q", p.Turns[0].Content)
	}
	if !strings.HasPrefix(p.Turns[1].Content, "-- current emotional state --") {
		t.Errorf("block should start with the emotional state when context is empty:\n%s", p.Turns[1].Content)
	}
	if !strings.Contains(p.Turns[1].Content, "!newMessageFrom(daniel)") {
		t.Error("default owner not used")
	}
}

func TestCompose_DebugMode(t *testing.T) {
	p := fixedComposer("daniel").Compose(Input{
		Template: "T",
		Context:  "CTX",
		Profile:  "Tabs",
		Message:  "please -- ENTER DEBUG_MODE -- now",
	})
	if !p.Debug {
		t.Fatal("Debug not set")
	}
	block := p.Turns[1].Content
	if !strings.HasPrefix(block, "-- DEBUG MODE RULES --\nTabs\nDrop all acting.") {
		t.Errorf("debug block = %q", block)
	}
	if strings.Contains(block, "CTX") || strings.Contains(block, "emotional state") {
		t.Error("debug block must replace the memory block")
	}
	if p.Turns[len(p.Turns)-1].Content != "please -- ENTER DEBUG_MODE -- now" {
		t.Error("user message altered")
	}
}

func TestIsDebugRequest(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"plain", "-- ENTER DEBUG_MODE --", true},
		{"embedded", "hey -- ENTER DEBUG_MODE -- please", true},
		{"zero width space", "-- ENTER\u200b DEBUG_MODE --", true},
		{"zero width joiner", "--\u200d ENTER DEBUG_MODE --", true},
		{"fullwidth letters", "-- ＥＮＴＥＲ DEBUG_MODE --", true},
		{"fullwidth hyphen", "－－ ENTER DEBUG_MODE －－", true},
		{"soft hyphen", "-- ENT\u00adER DEBUG_MODE --", true},
		{"absent", "enter debug mode", false},
		{"lowercase", "-- enter debug_mode --", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDebugRequest(tt.in); got != tt.want {
				t.Errorf("IsDebugRequest(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEstimatedTokens(t *testing.T) {
	p := Prompt{Turns: []state.Turn{state.UserTurn("abcd"), state.UserTurn("abcde")}}
	if got := p.EstimatedTokens(); got != 3 {
		t.Errorf("EstimatedTokens = %d, want 3", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d", got)
	}
}
