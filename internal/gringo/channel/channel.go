// Package channel is the seam between messaging transports and the tutor.
package channel

import (
	"context"
	"time"
)

// Platform names used as UserKey prefixes and de-duplication namespaces.
const (
	PlatformMatrix   = "matrix"
	PlatformTelegram = "telegram"
	PlatformWhatsApp = "whatsapp"
	PlatformHTTP     = "http"
	PlatformCLI      = "cli"
)

// Message is one inbound text message, normalised across platforms.
type Message struct {
	Platform  string
	EventID   string // platform message id; empty disables de-duplication
	UserKey   string // platform-qualified, e.g. "telegram:42"
	ChatID    string // where the reply goes
	Text      string
	Timestamp time.Time
}

// Response is what a transport sends back. An empty Text means send nothing.
type Response struct {
	Text  string
	State string
}

// Handler processes one inbound message.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) (Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) (Response, error)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message) (Response, error) {
	return f(ctx, msg)
}

// UserKey builds the platform-qualified user key.
func UserKey(platform, id string) string {
	return platform + ":" + id
}
