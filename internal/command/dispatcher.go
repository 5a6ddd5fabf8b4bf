package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/personabot/pbot/internal/memory"
	"github.com/personabot/pbot/internal/state"
)

// Memory is the part of memory.Manager the dispatcher uses.
type Memory interface {
	ActiveProfile(ctx context.Context) (string, error)
	SetActiveProfile(ctx context.Context, name string) error
	History(ctx context.Context, name string) ([]state.Turn, error)
	SetHistory(ctx context.Context, name string, turns []state.Turn) error
	RawContext(ctx context.Context, name string) (string, error)
	SetContext(ctx context.Context, name, summary string) error
	Reset(ctx context.Context, name string) error
	EmotionalState(ctx context.Context, name string) (memory.EmotionalState, error)
	Summarize(ctx context.Context, name string, turns []state.Turn) (string, error)
}

// softResetKeep is how many trailing turns !softreset leaves in history.
const softResetKeep = 2

// Dispatcher executes parsed commands against profile memory.
type Dispatcher struct {
	mem Memory
}

// NewDispatcher returns a Dispatcher backed by mem.
func NewDispatcher(mem Memory) *Dispatcher {
	return &Dispatcher{mem: mem}
}

// Dispatch runs inv and returns the text to show the user.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (string, error) {
	switch inv.Kind {
	case KindProfile:
		return d.setProfile(ctx, inv)
	case KindWhoAmI:
		return d.activeProfile(ctx)
	case KindHelp:
		return helpText, nil
	case KindContext:
		return d.withProfile(ctx, func(name string) (string, error) {
			return d.mem.RawContext(ctx, name)
		})
	case KindRemember:
		return d.withProfile(ctx, func(name string) (string, error) {
			return d.remember(ctx, name)
		})
	case KindSoftReset:
		return d.withProfile(ctx, func(name string) (string, error) {
			return d.softReset(ctx, name)
		})
	case KindReset:
		return d.withProfile(ctx, func(name string) (string, error) {
			return d.reset(ctx, name, inv)
		})
	case KindEmo:
		return d.withProfile(ctx, func(name string) (string, error) {
			s, err := d.mem.EmotionalState(ctx, name)
			if err != nil {
				return "", err
			}
			return s.Indented(), nil
		})
	default:
		return "", fmt.Errorf("%w: %s%s", ErrUnknownCommand, Sentinel, inv.Name)
	}
}

// Reply turns the outcome of Dispatch into the text sent back to the user.
// Errors the user can act on are shown verbatim; anything else is logged and
// replaced by a generic message.
func Reply(out string, err error) string {
	if err == nil {
		return out
	}
	for _, known := range []error{ErrUnknownCommand, ErrNoActiveProfile, ErrInvalidPayload, memory.ErrEmptyHistory} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	slog.Error("command failed", "error", err)
	return "Command failed, please try again."
}

func (d *Dispatcher) activeProfile(ctx context.Context) (string, error) {
	name, err := d.mem.ActiveProfile(ctx)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", ErrNoActiveProfile
	}
	return name, nil
}

func (d *Dispatcher) withProfile(ctx context.Context, fn func(name string) (string, error)) (string, error) {
	name, err := d.activeProfile(ctx)
	if err != nil {
		return "", err
	}
	return fn(name)
}

func (d *Dispatcher) setProfile(ctx context.Context, inv Invocation) (string, error) {
	if inv.Payload == "" {
		return "", fmt.Errorf("%w: usage !profile=<name>", ErrInvalidPayload)
	}
	if err := d.mem.SetActiveProfile(ctx, inv.Payload); err != nil {
		return "", err
	}
	return "Profile set successfully to " + inv.Payload, nil
}

func (d *Dispatcher) remember(ctx context.Context, name string) (string, error) {
	history, err := d.mem.History(ctx, name)
	if err != nil {
		return "", err
	}
	summary, err := d.mem.Summarize(ctx, name, history)
	if err != nil {
		return "", err
	}
	if summary != "" {
		if err := d.mem.SetContext(ctx, name, summary); err != nil {
			return "", err
		}
	}
	return "Generated summary:\n\n" + summary, nil
}

func (d *Dispatcher) softReset(ctx context.Context, name string) (string, error) {
	history, err := d.mem.History(ctx, name)
	if err != nil {
		return "", err
	}
	summary, err := d.mem.Summarize(ctx, name, history)
	if err != nil {
		return "", err
	}
	if err := d.mem.SetContext(ctx, name, summary); err != nil {
		return "", err
	}
	keep := history
	if len(keep) > softResetKeep {
		keep = keep[len(keep)-softResetKeep:]
	}
	if err := d.mem.SetHistory(ctx, name, keep); err != nil {
		return "", err
	}
	return "Memory purged, leaving the last 2 messages. Context saved.", nil
}

// reset with no payload clears context and history. A positive payload n
// drops the last n turns; zero or a negative payload drops |n| turns from
// the start.
func (d *Dispatcher) reset(ctx context.Context, name string, inv Invocation) (string, error) {
	if !inv.HasPayload || inv.Payload == "" {
		if err := d.mem.Reset(ctx, name); err != nil {
			return "", err
		}
		return "Profile reset successfully", nil
	}

	n, err := strconv.Atoi(inv.Payload)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not an integer", ErrInvalidPayload, inv.Payload)
	}

	history, err := d.mem.History(ctx, name)
	if err != nil {
		return "", err
	}

	var kept []state.Turn
	var deleted int
	var where string
	if n > 0 {
		deleted = min(n, len(history))
		kept = history[:len(history)-deleted]
		where = "end"
	} else {
		deleted = min(-n, len(history))
		kept = history[deleted:]
		where = "start"
	}

	if err := d.mem.SetHistory(ctx, name, kept); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted %d messages from the %s conversation history.", deleted, where), nil
}
