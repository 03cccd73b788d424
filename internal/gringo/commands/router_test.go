package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gringolingo/gringolingo/internal/gringo/channel"
	"github.com/gringolingo/gringolingo/internal/gringo/persona"
	"github.com/gringolingo/gringolingo/internal/gringo/tutor"
)

func TestParse(t *testing.T) {
	r := NewRouter("/")

	tests := []struct {
		in      string
		name    string
		args    []string
		wantErr error
	}{
		{in: "/help", name: "help"},
		{in: "  /English  ", name: "english"},
		{in: "/help@gringobot", name: "help"},
		{in: "/new now please", name: "new", args: []string{"now", "please"}},
		{in: "hello", wantErr: ErrNotACommand},
		{in: "/", wantErr: ErrNotACommand},
	}
	for _, tt := range tests {
		cmd, err := r.Parse(tt.in)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse(%q): got err %v, want %v", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.in, err)
			continue
		}
		if cmd.Name != tt.name {
			t.Errorf("Parse(%q): name %q, want %q", tt.in, cmd.Name, tt.name)
		}
		if len(cmd.Args) != len(tt.args) {
			t.Errorf("Parse(%q): args %v, want %v", tt.in, cmd.Args, tt.args)
		}
	}
}

type fakeTutor struct {
	calls []string
}

func (f *fakeTutor) ResetCommand() string { return "/reset" }

func (f *fakeTutor) NewConversation(_ context.Context, userKey string, _ time.Time) (tutor.Reply, error) {
	f.calls = append(f.calls, "new:"+userKey)
	return tutor.Reply{Text: "starter", State: tutor.StateNew}, nil
}

func (f *fakeTutor) SetLanguage(_ context.Context, userKey, language string, _ time.Time) (tutor.Reply, error) {
	f.calls = append(f.calls, "lang:"+language)
	return tutor.Reply{Text: "welcome", State: tutor.StateProfile}, nil
}

func (f *fakeTutor) SetDifficulty(_ context.Context, userKey, difficulty string, _ time.Time) (tutor.Reply, error) {
	f.calls = append(f.calls, "level:"+difficulty)
	return tutor.Reply{Text: "welcome", State: tutor.StateProfile}, nil
}

func (f *fakeTutor) Status(_ context.Context, userKey string) (tutor.Reply, error) {
	f.calls = append(f.calls, "status:"+userKey)
	return tutor.Reply{Text: "status", State: tutor.StateInfo}, nil
}

func TestRegisterTutor_Routes(t *testing.T) {
	r := NewRouter("/")
	ft := &fakeTutor{}
	RegisterTutor(r, ft, persona.Default())
	ctx := context.Background()

	for _, text := range []string{"/new", "/portuguese", "/hard", "/status", "/english", "/easy", "/medium"} {
		if _, err := r.Route(ctx, channel.Message{UserKey: "cli:me", Text: text}); err != nil {
			t.Fatalf("Route(%q): %v", text, err)
		}
	}
	want := []string{"new:cli:me", "lang:portuguese", "level:hard", "status:cli:me", "lang:english", "level:easy", "level:medium"}
	if strings.Join(ft.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls: got %v, want %v", ft.calls, want)
	}
}

func TestRoute_Errors(t *testing.T) {
	r := NewRouter("/")
	RegisterTutor(r, &fakeTutor{}, persona.Default())
	ctx := context.Background()

	if _, err := r.Route(ctx, channel.Message{Text: "just chatting"}); !errors.Is(err, ErrNotACommand) {
		t.Errorf("expected ErrNotACommand, got %v", err)
	}
	if _, err := r.Route(ctx, channel.Message{Text: "/reset"}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("reset is handled by the tutor, expected ErrUnknownCommand, got %v", err)
	}
}

func TestHelp(t *testing.T) {
	r := NewRouter("/")
	RegisterTutor(r, &fakeTutor{}, persona.Default())

	reply, err := r.Route(context.Background(), channel.Message{Text: "/help"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	for _, want := range []string{"/reset", "/new", "/english", "/portuguese", "/easy", "/medium", "/hard", "/status", "/help"} {
		if !strings.Contains(reply.Text, want) {
			t.Errorf("help text missing %q:\n%s", want, reply.Text)
		}
	}
	if reply.State != tutor.StateInfo {
		t.Errorf("state: %s", reply.State)
	}
}
