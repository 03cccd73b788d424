package limits

import (
	"sync"
	"time"
)

// DefaultDailyTokenBudget is the per-user allowance of generation tokens per
// UTC day.
const DefaultDailyTokenBudget = 50_000

// TokenBudget enforces a per-user daily token budget. Call Allow before a
// generation request and RecordUsage with the provider-reported total after
// it. Counters reset at midnight UTC.
//
// TokenBudget is safe for concurrent use.
type TokenBudget struct {
	mu     sync.Mutex
	budget int
	usage  map[string]*dailyUsage
	now    func() time.Time
}

type dailyUsage struct {
	tokens  int
	resetAt time.Time
}

// NewTokenBudget returns a budget of dailyBudget tokens per user per day.
// dailyBudget ≤ 0 selects DefaultDailyTokenBudget.
func NewTokenBudget(dailyBudget int) *TokenBudget {
	if dailyBudget <= 0 {
		dailyBudget = DefaultDailyTokenBudget
	}
	return &TokenBudget{
		budget: dailyBudget,
		usage:  make(map[string]*dailyUsage),
		now:    time.Now,
	}
}

// Budget returns the configured daily limit.
func (tb *TokenBudget) Budget() int { return tb.budget }

// Allow reports whether userKey still has budget today. It consumes nothing.
func (tb *TokenBudget) Allow(userKey string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	u := tb.current(userKey)
	return u == nil || u.tokens < tb.budget
}

// RecordUsage adds tokens to userKey's total for today.
func (tb *TokenBudget) RecordUsage(userKey string, tokens int) {
	if tokens <= 0 {
		return
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()

	u := tb.current(userKey)
	if u == nil {
		u = &dailyUsage{resetAt: nextMidnightUTC(tb.now())}
		tb.usage[userKey] = u
	}
	u.tokens += tokens
}

// Remaining returns how many tokens userKey may still consume today.
func (tb *TokenBudget) Remaining(userKey string) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	u := tb.current(userKey)
	if u == nil {
		return tb.budget
	}
	if rem := tb.budget - u.tokens; rem > 0 {
		return rem
	}
	return 0
}

// current returns userKey's counter for today, dropping yesterday's.
// tb.mu must be held.
func (tb *TokenBudget) current(userKey string) *dailyUsage {
	u := tb.usage[userKey]
	if u == nil {
		return nil
	}
	if !tb.now().UTC().Before(u.resetAt) {
		delete(tb.usage, userKey)
		return nil
	}
	return u
}

func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
