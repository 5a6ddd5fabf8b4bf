package state

// Key layout. Keys must stay stable: they are shared with any external
// provisioning tool that writes system prompts.
const (
	KeyCurrentProfile = "currentprofile"
	KeyLastTokenCount = "last_token_count"
)

func ContextKey(profile string) string      { return "conversationcontext:" + profile }
func HistoryKey(profile string) string      { return "conversation:" + profile }
func EmotionsKey(profile string) string     { return "emo:" + profile }
func SystemPromptKey(profile string) string { return "profile:" + profile }
