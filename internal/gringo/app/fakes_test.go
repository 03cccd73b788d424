package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gringolingo/gringolingo/internal/gringo/limits"
	"github.com/gringolingo/gringolingo/internal/gringo/llm"
	"github.com/gringolingo/gringolingo/internal/gringo/persona"
	"github.com/gringolingo/gringolingo/internal/gringo/store"
	"github.com/gringolingo/gringolingo/internal/gringo/tokenizer"
	"github.com/gringolingo/gringolingo/internal/gringo/tutor"
)

// stubProvider answers with a numbered canned reply.
type stubProvider struct {
	mu     sync.Mutex
	calls  int
	tokens int
	err    error
	last   []llm.Message
}

func (p *stubProvider) Generate(_ context.Context, messages []llm.Message) (*llm.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = messages
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Completion{
		Message: llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf("reply %d", p.calls)},
		Usage:   llm.TokenUsage{TotalTokens: p.tokens},
	}, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "gringo.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type gateOptions struct {
	ratePerMinute int
	dailyBudget   int
	// now replaces the tutor's fixed clock.
	now func() time.Time
}

func newTestGate(t *testing.T, provider llm.Provider, opts gateOptions) (*Gate, *store.Store) {
	t.Helper()
	s := newTestStore(t)
	now := opts.now
	if now == nil {
		now = func() time.Time { return t0 }
	}
	orchestrator, err := tutor.New(tutor.Config{
		Log:       s,
		Profiles:  s,
		Provider:  provider,
		Counter:   tokenizer.CharEstimator{},
		Catalogue: persona.Default(),
		Topic:     func() string { return "football" },
		Now:       now,
	})
	if err != nil {
		t.Fatalf("tutor.New: %v", err)
	}
	cfg := GateConfig{Tutor: orchestrator, Events: s}
	if opts.ratePerMinute > 0 {
		cfg.RateLimiter = limits.NewRateLimiter(opts.ratePerMinute)
	}
	if opts.dailyBudget > 0 {
		cfg.TokenBudget = limits.NewTokenBudget(opts.dailyBudget)
	}
	g, err := NewGate(cfg)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g, s
}
