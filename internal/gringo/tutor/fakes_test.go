package tutor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gringolingo/gringolingo/internal/gringo/llm"
	"github.com/gringolingo/gringolingo/internal/gringo/memory"
	"github.com/gringolingo/gringolingo/internal/gringo/persona"
)

// memLog is an in-memory MessageLog with failure injection.
type memLog struct {
	mu        sync.Mutex
	records   []memory.Record
	nextID    int64
	appendErr error
	readErr   error
}

func (l *memLog) Append(_ context.Context, userKey, content string, kind memory.Kind, ts time.Time) (*memory.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return nil, l.appendErr
	}
	l.nextID++
	rec := memory.Record{ID: l.nextID, UserKey: userKey, Content: content, Timestamp: ts, Kind: kind}
	l.records = append(l.records, rec)
	return &rec, nil
}

func (l *memLog) ReadOrdered(_ context.Context, userKey string, limit int) ([]memory.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	var out []memory.Record
	for _, r := range l.records {
		if r.UserKey == userKey {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (l *memLog) kinds(userKey string) []memory.Kind {
	recs, _ := l.ReadOrdered(context.Background(), userKey, 1<<20)
	out := make([]memory.Kind, len(recs))
	for i, r := range recs {
		out[i] = r.Kind
	}
	return out
}

type memProfiles struct {
	mu       sync.Mutex
	profiles map[string]persona.Profile
	err      error
}

func (p *memProfiles) GetProfile(_ context.Context, userKey string) (*persona.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	prof, ok := p.profiles[userKey]
	if !ok {
		return nil, nil
	}
	return &prof, nil
}

func (p *memProfiles) SaveProfile(_ context.Context, prof persona.Profile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.profiles == nil {
		p.profiles = map[string]persona.Profile{}
	}
	p.profiles[prof.UserKey] = prof
	return nil
}

// scriptedProvider returns its replies in order and records every request.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]llm.Message
}

func (p *scriptedProvider) Generate(_ context.Context, messages []llm.Message) (*llm.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]llm.Message, len(messages))
	copy(cp, messages)
	p.calls = append(p.calls, cp)
	if p.err != nil {
		return nil, p.err
	}
	reply := "ok"
	if len(p.replies) > 0 {
		reply, p.replies = p.replies[0], p.replies[1:]
	}
	return &llm.Completion{
		Message: llm.Message{Role: llm.RoleAssistant, Content: reply},
		Usage:   llm.TokenUsage{TotalTokens: 7},
	}, nil
}

func (p *scriptedProvider) lastCall() []llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

// wordCounter counts whitespace-separated words.
var wordCounter = memory.CounterFunc(func(s string) int { return len(strings.Fields(s)) })

// fixedClock advances one second per call.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}
