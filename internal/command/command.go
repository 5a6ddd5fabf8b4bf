// Package command parses and executes the in-band "!" command language that
// manipulates profile memory without going through the model.
package command

import (
	"errors"
	"strings"
)

// Sentinel starts every command.
const Sentinel = "!"

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrNoActiveProfile = errors.New("no active profile, set one with !profile=<name>")
	ErrInvalidPayload  = errors.New("invalid payload")
)

// Kind enumerates the supported commands.
type Kind int

const (
	KindUnknown Kind = iota
	KindProfile
	KindContext
	KindRemember
	KindSoftReset
	KindReset
	KindEmo
	KindWhoAmI
	KindHelp
)

var kindNames = map[string]Kind{
	"profile":   KindProfile,
	"context":   KindContext,
	"remember":  KindRemember,
	"softreset": KindSoftReset,
	"reset":     KindReset,
	"emo":       KindEmo,
	"whoami":    KindWhoAmI,
	"help":      KindHelp,
}

func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// Invocation is one parsed command line.
type Invocation struct {
	Kind Kind
	// Name is the command name as typed, without the sentinel.
	Name string
	// Payload is the text after "="; HasPayload is false when there was no "=".
	Payload    string
	HasPayload bool
}

// Parse reports whether text is a command and, if so, parses it. The name
// runs up to the first "=" and the payload is everything after it.
func Parse(text string) (Invocation, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, Sentinel) {
		return Invocation{}, false
	}
	body := strings.TrimPrefix(text, Sentinel)

	inv := Invocation{}
	inv.Name, inv.Payload, inv.HasPayload = strings.Cut(body, "=")
	inv.Name = strings.TrimSpace(inv.Name)
	inv.Payload = strings.TrimSpace(inv.Payload)
	inv.Kind = kindNames[inv.Name]
	return inv, true
}

const helpText = `Commands:
!profile=<name>  switch the active profile
!whoami          show the active profile
!context         show the stored conversation summary
!remember        summarize the history into the context
!softreset       summarize, then keep only the last 2 messages
!reset           clear context and history
!reset=<n>       n > 0 deletes the last n messages, n <= 0 deletes |n| from the start
!emo             show the current emotional state
!help            show this list`
