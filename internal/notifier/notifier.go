// Package notifier delivers best-effort activity messages to an external
// chat webhook.
package notifier

import "context"

// Footer is stamped on every embed.
const Footer = "BLRPC Control Room System"

// Embed colours.
const (
	ColorRed    = 15158332
	ColorOrange = 16098851
	ColorBlue   = 3447003
	ColorGreen  = 5763719
	ColorYellow = 16776960
	ColorGrey   = 9807270
)

// Field is one name/value row of an embed.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Message is a single activity notification.
type Message struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
}

// Sink accepts messages. Implementations never report delivery failures to
// the caller.
type Sink interface {
	Notify(ctx context.Context, msg Message)
}

// Nop drops every message.
type Nop struct{}

var _ Sink = Nop{}

// Notify implements Sink.
func (Nop) Notify(context.Context, Message) {}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}
