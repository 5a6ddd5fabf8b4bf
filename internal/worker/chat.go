package worker

import (
	"context"

	"github.com/personabot/pbot/internal/command"
	"github.com/personabot/pbot/internal/pipeline"
)

// Dispatcher executes parsed commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv command.Invocation) (string, error)
}

// Responder generates persona replies.
type Responder interface {
	Respond(ctx context.Context, text string) pipeline.Result
}

// Chat routes one inbound message: commands short-circuit to the dispatcher,
// everything else goes through the response pipeline.
type Chat struct {
	commands Dispatcher
	gen      Responder
}

func NewChat(commands Dispatcher, gen Responder) *Chat {
	return &Chat{commands: commands, gen: gen}
}

// Handle returns the text to send back for text.
func (c *Chat) Handle(ctx context.Context, text string) string {
	if inv, ok := command.Parse(text); ok {
		return command.Reply(c.commands.Dispatch(ctx, inv))
	}
	return c.gen.Respond(ctx, text).Text
}
