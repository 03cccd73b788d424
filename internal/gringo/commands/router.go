// Package commands parses slash commands and routes them to handlers.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gringolingo/gringolingo/internal/gringo/channel"
	"github.com/gringolingo/gringolingo/internal/gringo/tutor"
)

// Command represents a parsed command.
type Command struct {
	Name    string
	Args    []string
	RawText string
}

// ErrNotACommand is returned when the message does not start with the
// command prefix. Such text is ordinary conversation.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// ErrUnknownCommand is returned for prefixed text with no registered handler.
var ErrUnknownCommand = errors.New("unknown command")

// Handler handles a command for the sender of msg.
type Handler func(ctx context.Context, cmd *Command, msg channel.Message) (tutor.Reply, error)

type route struct {
	handler Handler
	help    string
}

// Router routes commands to handlers.
type Router struct {
	routes map[string]route
	prefix string
}

// NewRouter creates a router for commands starting with prefix.
func NewRouter(prefix string) *Router {
	return &Router{
		routes: make(map[string]route),
		prefix: prefix,
	}
}

// Register registers handler for name. help is shown by Help.
func (r *Router) Register(name, help string, handler Handler) {
	r.routes[strings.ToLower(name)] = route{handler: handler, help: help}
}

// Parse splits text into a command name and arguments.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}

	text = strings.TrimSpace(strings.TrimPrefix(text, r.prefix))
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil, ErrNotACommand
	}

	// Telegram appends the bot name in groups: /help@gringobot.
	name, _, _ := strings.Cut(parts[0], "@")
	return &Command{
		Name:    strings.ToLower(name),
		Args:    parts[1:],
		RawText: text,
	}, nil
}

// Route parses text and calls the matching handler.
func (r *Router) Route(ctx context.Context, msg channel.Message) (tutor.Reply, error) {
	cmd, err := r.Parse(msg.Text)
	if err != nil {
		return tutor.Reply{}, err
	}
	rt, ok := r.routes[cmd.Name]
	if !ok {
		return tutor.Reply{}, fmt.Errorf("%w: %s%s", ErrUnknownCommand, r.prefix, cmd.Name)
	}
	return rt.handler(ctx, cmd, msg)
}

// Help lists the registered commands, sorted by name.
func (r *Router) Help() string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s%s - %s", r.prefix, name, r.routes[name].help)
	}
	return b.String()
}

// GetArg returns an argument by index.
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}
