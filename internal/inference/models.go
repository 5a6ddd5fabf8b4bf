package inference

// Model names a chat model served by one of the backends.
type Model string

// Groq-hosted models used by the default configuration.
const (
	Llama3_8B   Model = "llama3-8b-8192"
	Llama3_70B  Model = "llama3-70b-8192"
	Mixtral8x7B Model = "mixtral-8x7b-32768"
	Gemma7B     Model = "gemma-7b-it"
)

// Default chain for reply generation and the model used for summaries and
// emotional evaluation.
const (
	DefaultPrimary   = Llama3_70B
	DefaultSecondary = Mixtral8x7B
	DefaultTertiary  = Gemma7B
	DefaultUtility   = Mixtral8x7B
)

var contextWindows = map[Model]int{
	Llama3_8B:   8192,
	Llama3_70B:  8192,
	Mixtral8x7B: 32768,
	Gemma7B:     8192,

	"claude-3-5-haiku-latest":  200000,
	"claude-3-7-sonnet-latest": 200000,
	"claude-sonnet-4-0":        200000,
	"gemini-2.0-flash":         1048576,
	"gemini-2.5-flash":         1048576,
	"llama3":                   8192,
	"mistral":                  32768,
}

// ContextWindow returns the model's context size in tokens, or 0 when unknown.
func (m Model) ContextWindow() int {
	return contextWindows[m]
}

// Known reports whether m is in the model table.
func (m Model) Known() bool {
	_, ok := contextWindows[m]
	return ok
}
