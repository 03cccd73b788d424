package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gringolingo/gringolingo/common/trace"
	"github.com/gringolingo/gringolingo/internal/gringo/channel"
	"github.com/gringolingo/gringolingo/internal/gringo/commands"
	"github.com/gringolingo/gringolingo/internal/gringo/limits"
	"github.com/gringolingo/gringolingo/internal/gringo/llm"
	"github.com/gringolingo/gringolingo/internal/gringo/observability"
	"github.com/gringolingo/gringolingo/internal/gringo/persona"
	"github.com/gringolingo/gringolingo/internal/gringo/tutor"
)

// User-facing replies for requests that did not reach the tutor or failed
// inside it.
const (
	tryAgainText       = "Sorry, something went wrong on my side. Please try again in a moment."
	busyText           = "I'm a bit overwhelmed right now. Please try again in a minute."
	rateLimitedText    = "You're sending messages faster than I can answer. Please wait a moment."
	budgetExceededText = "You've reached today's practice limit. See you tomorrow!"
	unknownOptionText  = "That option isn't available. Type /help to see what I can do."
)

// Tutor is the orchestrator surface the gate drives.
type Tutor interface {
	commands.Tutor
	IsReset(text string) bool
	Respond(ctx context.Context, userKey, text string, ts time.Time) (tutor.Reply, error)
}

// GateConfig wires a Gate.
type GateConfig struct {
	Tutor     Tutor
	Catalogue *persona.Catalogue
	Events    EventLog
	// RateLimiter and TokenBudget are optional.
	RateLimiter *limits.RateLimiter
	TokenBudget *limits.TokenBudget
	Now         func() time.Time
}

// Gate sits between the transports and the tutor. It drops redelivered
// events, applies per-user limits, runs at most one request per user at a
// time and turns failures into something a learner can read.
type Gate struct {
	tutor  Tutor
	router *commands.Router
	events EventLog
	rate   *limits.RateLimiter
	budget *limits.TokenBudget
	locks  *keyedMutex
	now    func() time.Time
}

var _ channel.Handler = (*Gate)(nil)

// NewGate builds the command router and returns the gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Tutor == nil {
		return nil, fmt.Errorf("gate: tutor is required")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("gate: event log is required")
	}
	if cfg.Catalogue == nil {
		cfg.Catalogue = persona.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	router := commands.NewRouter("/")
	commands.RegisterTutor(router, cfg.Tutor, cfg.Catalogue)

	return &Gate{
		tutor:  cfg.Tutor,
		router: router,
		events: cfg.Events,
		rate:   cfg.RateLimiter,
		budget: cfg.TokenBudget,
		locks:  newKeyedMutex(),
		now:    cfg.Now,
	}, nil
}

// HandleMessage implements channel.Handler. A non-nil error is returned
// together with the text to show the user.
func (g *Gate) HandleMessage(ctx context.Context, msg channel.Message) (channel.Response, error) {
	ctx = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx).With("platform", msg.Platform, "user", msg.UserKey)

	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" || msg.UserKey == "" {
		return channel.Response{}, nil
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = g.now()
	}

	if msg.EventID != "" {
		first, err := g.events.MarkProcessed(ctx, msg.Platform, msg.EventID)
		if err != nil {
			logger.Error("de-duplication check failed", "event_id", msg.EventID, "err", err)
			return channel.Response{Text: tryAgainText}, &tutor.StorageError{Op: "mark processed", Err: err}
		}
		if !first {
			logger.Info("duplicate delivery dropped", "event_id", msg.EventID)
			return channel.Response{}, nil
		}
	}

	if g.rate != nil && !g.rate.Allow(msg.UserKey) {
		logger.Warn("rate limit exceeded")
		return channel.Response{Text: rateLimitedText, State: string(tutor.StateInfo)}, nil
	}
	if g.budget != nil && !g.budget.Allow(msg.UserKey) {
		logger.Warn("daily token budget exhausted", "budget", g.budget.Budget())
		return channel.Response{Text: budgetExceededText, State: string(tutor.StateInfo)}, nil
	}

	unlock := g.locks.Lock(msg.UserKey)
	defer unlock()

	start := time.Now()
	reply, err := g.dispatch(ctx, msg)
	if err != nil {
		if tutor.IsStorageError(err) {
			logger.Error("request failed", "err", err)
		} else {
			logger.Warn("request failed", "err", err)
		}
		if tutor.IsGenerationError(err) {
			g.release(ctx, logger, msg)
		}
		return channel.Response{Text: userFacingError(err)}, err
	}

	if g.budget != nil {
		g.budget.RecordUsage(msg.UserKey, reply.Usage.TotalTokens)
	}
	logger.Info("reply ready",
		"state", reply.State,
		"tokens", reply.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds(),
		"preview", observability.Preview(reply.Text, 60),
	)
	return channel.Response{Text: reply.Text, State: string(reply.State)}, nil
}

// release forgets a failed event so a redelivery with the same id gets
// another attempt instead of being dropped as a duplicate. The user turn
// already written stays in the log.
func (g *Gate) release(ctx context.Context, logger *slog.Logger, msg channel.Message) {
	if msg.EventID == "" {
		return
	}
	if err := g.events.ForgetProcessed(ctx, msg.Platform, msg.EventID); err != nil {
		logger.Error("failed to release event for retry", "event_id", msg.EventID, "err", err)
	}
}

func (g *Gate) dispatch(ctx context.Context, msg channel.Message) (tutor.Reply, error) {
	if g.tutor.IsReset(msg.Text) {
		return g.tutor.Respond(ctx, msg.UserKey, msg.Text, msg.Timestamp)
	}

	reply, err := g.router.Route(ctx, msg)
	switch {
	case errors.Is(err, commands.ErrNotACommand):
		return g.tutor.Respond(ctx, msg.UserKey, msg.Text, msg.Timestamp)
	case errors.Is(err, commands.ErrUnknownCommand):
		return tutor.Reply{
			Text:  fmt.Sprintf("I don't know that command. Type /help to see what I can do, or %s to start over.", g.tutor.ResetCommand()),
			State: tutor.StateInfo,
		}, nil
	}
	return reply, err
}

func userFacingError(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimit):
		return busyText
	case errors.Is(err, tutor.ErrUnknownLanguage), errors.Is(err, tutor.ErrUnknownDifficulty):
		return unknownOptionText
	default:
		return tryAgainText
	}
}
