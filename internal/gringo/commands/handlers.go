package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gringolingo/gringolingo/internal/gringo/channel"
	"github.com/gringolingo/gringolingo/internal/gringo/persona"
	"github.com/gringolingo/gringolingo/internal/gringo/tutor"
)

// Tutor is the subset of the orchestrator the commands drive.
type Tutor interface {
	ResetCommand() string
	NewConversation(ctx context.Context, userKey string, ts time.Time) (tutor.Reply, error)
	SetLanguage(ctx context.Context, userKey, language string, ts time.Time) (tutor.Reply, error)
	SetDifficulty(ctx context.Context, userKey, difficulty string, ts time.Time) (tutor.Reply, error)
	Status(ctx context.Context, userKey string) (tutor.Reply, error)
}

// RegisterTutor wires /help, /status, /new and one command per catalogue
// language and difficulty.
func RegisterTutor(r *Router, t Tutor, catalogue *persona.Catalogue) {
	r.Register("new", "start a new conversation on a random topic", func(ctx context.Context, _ *Command, msg channel.Message) (tutor.Reply, error) {
		return t.NewConversation(ctx, msg.UserKey, msg.Timestamp)
	})

	r.Register("status", "show your language and difficulty", func(ctx context.Context, _ *Command, msg channel.Message) (tutor.Reply, error) {
		return t.Status(ctx, msg.UserKey)
	})

	for _, key := range catalogue.LanguageKeys() {
		lang := key
		help := fmt.Sprintf("practise %s", catalogue.Languages[lang].DisplayName)
		r.Register(lang, help, func(ctx context.Context, _ *Command, msg channel.Message) (tutor.Reply, error) {
			return t.SetLanguage(ctx, msg.UserKey, lang, msg.Timestamp)
		})
	}

	for _, key := range catalogue.DifficultyKeys() {
		level := key
		help := fmt.Sprintf("switch to %s level", catalogue.Difficulties[level].Level)
		r.Register(level, help, func(ctx context.Context, _ *Command, msg channel.Message) (tutor.Reply, error) {
			return t.SetDifficulty(ctx, msg.UserKey, level, msg.Timestamp)
		})
	}

	r.Register("help", "show this message", func(ctx context.Context, _ *Command, msg channel.Message) (tutor.Reply, error) {
		var b strings.Builder
		b.WriteString("Commands:\n")
		fmt.Fprintf(&b, "%s - start over with a welcome message\n", t.ResetCommand())
		b.WriteString(r.Help())
		return tutor.Reply{Text: b.String(), State: tutor.StateInfo}, nil
	})
}
