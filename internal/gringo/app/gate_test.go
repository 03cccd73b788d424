package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gringolingo/gringolingo/internal/gringo/channel"
	"github.com/gringolingo/gringolingo/internal/gringo/llm"
	"github.com/gringolingo/gringolingo/internal/gringo/memory"
	"github.com/gringolingo/gringolingo/internal/gringo/tutor"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id, text string, offset int) channel.Message {
	return channel.Message{
		Platform:  channel.PlatformTelegram,
		EventID:   id,
		UserKey:   "telegram:42",
		ChatID:    "42",
		Text:      text,
		Timestamp: t0.Add(time.Duration(offset) * time.Second),
	}
}

func TestGate_BootstrapThenContinue(t *testing.T) {
	p := &stubProvider{}
	g, s := newTestGate(t, p, gateOptions{})
	ctx := context.Background()

	resp, err := g.HandleMessage(ctx, msg("1", "hello", 0))
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	if resp.State != string(tutor.StateBootstrap) {
		t.Errorf("state = %q, want bootstrap", resp.State)
	}

	resp, err = g.HandleMessage(ctx, msg("2", "I like football", 10))
	if err != nil {
		t.Fatalf("second message: %v", err)
	}
	if resp.State != string(tutor.StateContinue) || resp.Text != "reply 2" {
		t.Errorf("unexpected response %+v", resp)
	}

	recs, err := s.ReadOrdered(ctx, "telegram:42", 100)
	if err != nil {
		t.Fatal(err)
	}
	want := []memory.Kind{memory.KindUserMessage, memory.KindBotMessage, memory.KindUserMessage, memory.KindBotMessage}
	if len(recs) != len(want) {
		t.Fatalf("got %d records, want %d", len(recs), len(want))
	}
	for i, k := range want {
		if recs[i].Kind != k {
			t.Errorf("record %d kind = %s, want %s", i, recs[i].Kind, k)
		}
	}
}

func TestGate_DuplicateDeliveryDropped(t *testing.T) {
	p := &stubProvider{}
	g, s := newTestGate(t, p, gateOptions{})
	ctx := context.Background()

	if _, err := g.HandleMessage(ctx, msg("dup", "hello", 0)); err != nil {
		t.Fatal(err)
	}
	resp, err := g.HandleMessage(ctx, msg("dup", "hello", 0))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "" {
		t.Errorf("duplicate should produce no reply, got %q", resp.Text)
	}
	if p.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", p.callCount())
	}
	n, _ := s.MessageCount(ctx)
	if n != 2 {
		t.Errorf("message count = %d, want 2", n)
	}
}

func TestGate_ResetAndCommands(t *testing.T) {
	g, _ := newTestGate(t, &stubProvider{}, gateOptions{})
	ctx := context.Background()

	resp, err := g.HandleMessage(ctx, msg("1", "/reset", 0))
	if err != nil {
		t.Fatal(err)
	}
	if resp.State != string(tutor.StateReset) {
		t.Errorf("reset state = %q", resp.State)
	}

	resp, err = g.HandleMessage(ctx, msg("2", "/status", 1))
	if err != nil {
		t.Fatal(err)
	}
	if resp.State != string(tutor.StateInfo) || !strings.Contains(resp.Text, "Language:") {
		t.Errorf("status response %+v", resp)
	}

	resp, err = g.HandleMessage(ctx, msg("3", "/help", 2))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"/reset", "/new", "/portuguese", "/hard"} {
		if !strings.Contains(resp.Text, want) {
			t.Errorf("help text missing %s:\n%s", want, resp.Text)
		}
	}

	resp, err = g.HandleMessage(ctx, msg("4", "/dance", 3))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Text, "/help") {
		t.Errorf("unknown command reply %q", resp.Text)
	}

	resp, err = g.HandleMessage(ctx, msg("5", "/portuguese", 4))
	if err != nil {
		t.Fatal(err)
	}
	if resp.State != string(tutor.StateProfile) {
		t.Errorf("language switch state = %q", resp.State)
	}
}

func TestGate_IgnoresBlankText(t *testing.T) {
	p := &stubProvider{}
	g, _ := newTestGate(t, p, gateOptions{})
	resp, err := g.HandleMessage(context.Background(), msg("1", "   ", 0))
	if err != nil || resp.Text != "" {
		t.Errorf("blank message: %+v, %v", resp, err)
	}
	if p.callCount() != 0 {
		t.Error("provider must not be called")
	}
}

func TestGate_RateLimit(t *testing.T) {
	p := &stubProvider{}
	g, _ := newTestGate(t, p, gateOptions{ratePerMinute: 1})
	ctx := context.Background()

	if _, err := g.HandleMessage(ctx, msg("1", "hello", 0)); err != nil {
		t.Fatal(err)
	}
	resp, err := g.HandleMessage(ctx, msg("2", "again", 1))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != rateLimitedText {
		t.Errorf("got %q, want rate limit text", resp.Text)
	}
	if p.callCount() != 1 {
		t.Errorf("provider called %d times", p.callCount())
	}
}

func TestGate_TokenBudget(t *testing.T) {
	p := &stubProvider{tokens: 500}
	g, _ := newTestGate(t, p, gateOptions{dailyBudget: 100})
	ctx := context.Background()

	if _, err := g.HandleMessage(ctx, msg("1", "hello", 0)); err != nil {
		t.Fatal(err)
	}
	resp, _ := g.HandleMessage(ctx, msg("2", "more", 1))
	if resp.Text != budgetExceededText {
		t.Errorf("got %q, want budget text", resp.Text)
	}
}

func TestGate_GenerationErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"upstream rate limit", llm.ErrRateLimit, busyText},
		{"other failure", errors.New("connection refused"), tryAgainText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, s := newTestGate(t, &stubProvider{err: tt.err}, gateOptions{})
			resp, err := g.HandleMessage(context.Background(), msg("1", "hello", 0))
			if !tutor.IsGenerationError(err) {
				t.Fatalf("expected GenerationError, got %v", err)
			}
			if resp.Text != tt.want {
				t.Errorf("reply = %q, want %q", resp.Text, tt.want)
			}
			recs, _ := s.ReadOrdered(context.Background(), "telegram:42", 10)
			for _, r := range recs {
				if r.Kind == memory.KindBotMessage {
					t.Error("no bot message may be logged after a failed generation")
				}
			}
		})
	}
}

func TestGate_RetryAfterGenerationFailure(t *testing.T) {
	p := &stubProvider{}
	g, _ := newTestGate(t, p, gateOptions{})
	ctx := context.Background()

	if _, err := g.HandleMessage(ctx, msg("1", "hello", 0)); err != nil {
		t.Fatal(err)
	}

	p.mu.Lock()
	p.err = errors.New("connection refused")
	p.mu.Unlock()
	if _, err := g.HandleMessage(ctx, msg("2", "how are you?", 5)); !tutor.IsGenerationError(err) {
		t.Fatalf("expected GenerationError, got %v", err)
	}

	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	resp, err := g.HandleMessage(ctx, msg("2", "how are you?", 5))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if resp.Text == "" || resp.State != string(tutor.StateContinue) {
		t.Errorf("retry with the same id should be answered, got %+v", resp)
	}

	again, err := g.HandleMessage(ctx, msg("2", "how are you?", 5))
	if err != nil || again.Text != "" {
		t.Errorf("a delivery after success is still a duplicate, got %+v, %v", again, err)
	}
}

// Telegram stamps messages in whole seconds while replies are stamped by
// the server clock, so inbound platform time routinely lags the log.
func TestGate_WholeSecondPlatformTimeKeepsLogOrder(t *testing.T) {
	p := &stubProvider{}
	var mu sync.Mutex
	clock := t0.Add(400 * time.Millisecond)
	g, s := newTestGate(t, p, gateOptions{now: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(300 * time.Millisecond)
		return clock
	}})
	ctx := context.Background()

	for i, text := range []string{"hello", "/reset", "oi", "tudo bem?"} {
		if _, err := g.HandleMessage(ctx, msg(fmt.Sprint(i), text, 0)); err != nil {
			t.Fatalf("%q: %v", text, err)
		}
	}

	recs, err := s.ReadOrdered(ctx, "telegram:42", 100)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].ID < recs[i-1].ID {
			t.Fatalf("read order differs from insertion order at %d", i)
		}
	}

	turns := memory.Reconstruct(recs)
	wantRoles := []memory.Role{memory.RoleAssistant, memory.RoleUser, memory.RoleAssistant, memory.RoleUser, memory.RoleAssistant}
	if len(turns) != len(wantRoles) {
		t.Fatalf("got %d turns after reset, want %d: %+v", len(turns), len(wantRoles), turns)
	}
	for i, r := range wantRoles {
		if turns[i].Role != r {
			t.Errorf("turn %d role = %s, want %s", i, turns[i].Role, r)
		}
	}
	if !strings.HasSuffix(turns[0].Content, "reply 2") {
		t.Errorf("conversation should open with the post-reset starter, got %q", turns[0].Content)
	}

	last := p.last[len(p.last)-1]
	if last.Role != llm.RoleUser || !strings.HasPrefix(last.Content, "tudo bem?") {
		t.Errorf("prompt should end with the newest user turn, got %+v", last)
	}
}

func TestGate_StorageErrorOnDedup(t *testing.T) {
	g, s := newTestGate(t, &stubProvider{}, gateOptions{})
	s.Close()
	resp, err := g.HandleMessage(context.Background(), msg("1", "hello", 0))
	if !tutor.IsStorageError(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if resp.Text != tryAgainText {
		t.Errorf("reply = %q", resp.Text)
	}
}

func TestGate_SerialisesPerUser(t *testing.T) {
	p := &stubProvider{}
	g, s := newTestGate(t, p, gateOptions{})
	ctx := context.Background()

	if _, err := g.HandleMessage(ctx, msg("0", "/reset", 0)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := g.HandleMessage(ctx, msg(fmt.Sprint(i), fmt.Sprintf("message %d", i), i)); err != nil {
				t.Errorf("message %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	recs, err := s.ReadOrdered(ctx, "telegram:42", 100)
	if err != nil {
		t.Fatal(err)
	}
	// user_reset + starter + 8 × (user_message + bot_message)
	if len(recs) != 18 {
		t.Fatalf("got %d records, want 18", len(recs))
	}
	if g.locks.len() != 0 {
		t.Errorf("keyed mutex leaked %d entries", g.locks.len())
	}
}
