package memory

import (
	"fmt"
	"strings"

	"github.com/personabot/pbot/internal/state"
)

const summarizeInstruction = `Your role is to generate content rich summaries of a given conversation.
Your summary will be used as a context for future conversations.
Your summary should be from the point of view of the ASSISTANT.
Write the summary in %s.

FORMAT:
{{meaningful title}}
{{summary}}
{{searchable keywords separated by comma}}`

const evaluateInstruction = `Your role is to evaluate the emotional intelligence values that the assistant talking
should adopt in order to generate engaging and contextually relevant responses.

Values should be between 0 and 1 being 0 no presence of the emotion and 1 the maximum presence of the emotion.

You always should return ALL the emotional intelligence values, even if they are not present in the conversation or if they are 0.

The base emotional_intelligence interface is as follows:
%s

Return a JSON object with the emotional intelligence values that the assistant should adopt.`

// contextBlock wraps a stored summary before it is placed in a prompt.
const contextBlock = `namespace previous_conversations_context {
  use_case: You can use this context to "remember" previous conversations,
  "remembering" the context of previous messages can help you to
  generate engaging and contextually relevant responses.
  context: """%s"""
}`

// transcript renders turns one per line as "FROM: <role>: <content>".
func transcript(turns []state.Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = fmt.Sprintf("FROM: %s: %s", t.Role, t.Content)
	}
	return strings.Join(lines, "\n")
}

func summarizePrompt(turns []state.Turn, language string) []state.Turn {
	if language == "" {
		language = "English"
	}
	return []state.Turn{
		state.SystemTurn(fmt.Sprintf(summarizeInstruction, language)),
		state.UserTurn(transcript(turns)),
	}
}

func evaluatePrompt(turns []state.Turn) []state.Turn {
	var shape strings.Builder
	shape.WriteString("{\n")
	for i, name := range emotionNames {
		shape.WriteString(fmt.Sprintf("  %q: {{number}}", name))
		if i < len(emotionNames)-1 {
			shape.WriteByte(',')
		}
		shape.WriteByte('\n')
	}
	shape.WriteString("}")

	return []state.Turn{
		state.SystemTurn(fmt.Sprintf(evaluateInstruction, shape.String())),
		state.UserTurn(transcript(turns)),
	}
}
