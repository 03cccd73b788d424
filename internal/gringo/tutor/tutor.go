// Package tutor is the response orchestrator. For each inbound message it
// decides between starting a fresh conversation and continuing the current
// one, assembles the prompt from the message log and calls the generation
// service once.
//
// Every record the tutor creates goes through the MessageLog; the active
// conversation is recomputed from the log on every call. The Orchestrator
// holds no per-user lock: callers that need at most one in-flight request
// per user must serialise calls themselves.
package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gringolingo/gringolingo/internal/gringo/llm"
	"github.com/gringolingo/gringolingo/internal/gringo/memory"
	"github.com/gringolingo/gringolingo/internal/gringo/observability"
	"github.com/gringolingo/gringolingo/internal/gringo/persona"
)

const (
	// DefaultMaxTokens bounds the conversation suffix sent to the model.
	DefaultMaxTokens = 3000
	// DefaultHistoryLimit is how many recent log records are read per call.
	DefaultHistoryLimit = 100
	// DefaultResetCommand starts a fresh conversation.
	DefaultResetCommand = "/reset"
)

// MessageLog is the append-only per-user log.
type MessageLog interface {
	Append(ctx context.Context, userKey, content string, kind memory.Kind, ts time.Time) (*memory.Record, error)
	ReadOrdered(ctx context.Context, userKey string, limit int) ([]memory.Record, error)
}

// ProfileStore persists each user's language and difficulty choice.
type ProfileStore interface {
	GetProfile(ctx context.Context, userKey string) (*persona.Profile, error)
	SaveProfile(ctx context.Context, p persona.Profile) error
}

// State names the path Respond (or a command) took.
type State string

const (
	StateReset     State = "reset"
	StateBootstrap State = "bootstrap"
	StateContinue  State = "continue"
	StateNew       State = "new"
	StateProfile   State = "profile"
	StateInfo      State = "info"
)

// Reply is what the caller sends back to the user.
type Reply struct {
	Text  string
	State State
	Usage llm.TokenUsage
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Log       MessageLog
	Profiles  ProfileStore
	Provider  llm.Provider
	Counter   memory.Counter
	Catalogue *persona.Catalogue

	MaxTokens    int
	HistoryLimit int
	ResetCommand string

	// Topic picks the subject of a conversation starter. Defaults to the
	// catalogue's RandomTopic.
	Topic func() string
	// Now stamps every appended record. Stamps never go backwards within a
	// user's log.
	Now func() time.Time
}

// Orchestrator implements the Reset / Bootstrap / Continue state machine.
type Orchestrator struct {
	log       MessageLog
	profiles  ProfileStore
	provider  llm.Provider
	counter   memory.Counter
	catalogue *persona.Catalogue

	maxTokens    int
	historyLimit int
	resetCommand string
	topic        func() string
	now          func() time.Time
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("tutor: message log is required")
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("tutor: profile store is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("tutor: generation provider is required")
	}
	if cfg.Counter == nil {
		return nil, fmt.Errorf("tutor: token counter is required")
	}
	if cfg.Catalogue == nil {
		cfg.Catalogue = persona.Default()
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("tutor: max tokens must be non-negative, got %d", cfg.MaxTokens)
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if strings.TrimSpace(cfg.ResetCommand) == "" {
		cfg.ResetCommand = DefaultResetCommand
	}
	if cfg.Topic == nil {
		cfg.Topic = cfg.Catalogue.RandomTopic
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Orchestrator{
		log:          cfg.Log,
		profiles:     cfg.Profiles,
		provider:     cfg.Provider,
		counter:      cfg.Counter,
		catalogue:    cfg.Catalogue,
		maxTokens:    cfg.MaxTokens,
		historyLimit: cfg.HistoryLimit,
		resetCommand: strings.TrimSpace(cfg.ResetCommand),
		topic:        cfg.Topic,
		now:          cfg.Now,
	}, nil
}

// ResetCommand returns the literal that triggers the Reset state.
func (o *Orchestrator) ResetCommand() string { return o.resetCommand }

// IsReset reports whether text starts with the reset command as a whole
// word: "/reset" and "/reset please" match, "/resetting" does not.
func (o *Orchestrator) IsReset(text string) bool {
	fields := strings.Fields(text)
	return len(fields) > 0 && fields[0] == o.resetCommand
}

// Respond handles one inbound user message. sentAt is the platform's
// timestamp for the message; it is logged but records are stamped by the
// orchestrator's clock.
func (o *Orchestrator) Respond(ctx context.Context, userKey, text string, sentAt time.Time) (Reply, error) {
	logger := observability.WithTrace(ctx).With("user", userKey)
	if !sentAt.IsZero() {
		logger = logger.With("sent_at", sentAt)
	}

	p, err := o.persona(ctx, userKey)
	if err != nil {
		return Reply{}, err
	}

	records, err := o.log.ReadOrdered(ctx, userKey, o.historyLimit)
	if err != nil {
		return Reply{}, &StorageError{Op: "read history", Err: err}
	}
	clk := o.clockAfter(records)

	if o.IsReset(text) {
		// The command itself is the boundary; it never becomes a turn.
		if _, err := o.log.Append(ctx, userKey, o.resetCommand, memory.KindUserReset, clk.next()); err != nil {
			return Reply{}, &StorageError{Op: "append reset", Err: err}
		}
		logger.Info("tutor: conversation reset")
		return o.starter(ctx, logger, userKey, p, clk, true, StateReset)
	}

	if len(memory.Reconstruct(records)) == 0 {
		if _, err := o.log.Append(ctx, userKey, text, memory.KindUserMessage, clk.next()); err != nil {
			return Reply{}, &StorageError{Op: "append user message", Err: err}
		}
		logger.Info("tutor: no active conversation, bootstrapping")
		return o.starter(ctx, logger, userKey, p, clk, true, StateBootstrap)
	}

	if _, err := o.log.Append(ctx, userKey, text, memory.KindUserMessage, clk.next()); err != nil {
		return Reply{}, &StorageError{Op: "append user message", Err: err}
	}

	// Re-read so the prompt reflects the log, including the turn just written.
	records, err = o.log.ReadOrdered(ctx, userKey, o.historyLimit)
	if err != nil {
		return Reply{}, &StorageError{Op: "read history", Err: err}
	}
	turns := withReminder(memory.Reconstruct(records), p.Reminder())
	trimmed := memory.Trim(turns, o.maxTokens, o.counter)

	messages := make([]llm.Message, 0, len(trimmed)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: p.SystemInstruction()})
	for _, t := range trimmed {
		messages = append(messages, llm.Message{Role: llm.Role(t.Role), Content: t.Content})
	}

	logger.Debug("tutor: continuing conversation",
		"turns", len(turns),
		"sent_turns", len(trimmed),
		"prompt_tokens_est", memory.TokenCount(trimmed, o.counter),
	)

	completion, err := o.provider.Generate(ctx, messages)
	if err != nil {
		logger.Warn("tutor: generation failed", "err", err)
		return Reply{}, &GenerationError{Err: err}
	}

	reply := completion.Message.Content
	if _, err := o.log.Append(ctx, userKey, reply, memory.KindBotMessage, clk.next()); err != nil {
		return Reply{}, &StorageError{Op: "append bot message", Err: err}
	}
	return Reply{Text: reply, State: StateContinue, Usage: completion.Usage}, nil
}

// NewConversation starts a fresh conversation without the welcome message.
func (o *Orchestrator) NewConversation(ctx context.Context, userKey string, _ time.Time) (Reply, error) {
	logger := observability.WithTrace(ctx).With("user", userKey)

	p, err := o.persona(ctx, userKey)
	if err != nil {
		return Reply{}, err
	}
	clk, err := o.clockFor(ctx, userKey)
	if err != nil {
		return Reply{}, err
	}
	if _, err := o.log.Append(ctx, userKey, "/new", memory.KindBotReset, clk.next()); err != nil {
		return Reply{}, &StorageError{Op: "append reset", Err: err}
	}
	logger.Info("tutor: new conversation requested")
	return o.starter(ctx, logger, userKey, p, clk, false, StateNew)
}

// SetLanguage switches the user's target language. The conversation is reset
// and the reply is the new persona's welcome message.
func (o *Orchestrator) SetLanguage(ctx context.Context, userKey, language string, ts time.Time) (Reply, error) {
	key := strings.ToLower(strings.TrimSpace(language))
	if !o.catalogue.HasLanguage(key) {
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, language)
	}
	return o.updateProfile(ctx, userKey, ts, func(p *persona.Profile) { p.TargetLanguage = key })
}

// SetDifficulty switches the user's difficulty. The conversation is reset
// and the reply is the persona's welcome message at the new level.
func (o *Orchestrator) SetDifficulty(ctx context.Context, userKey, difficulty string, ts time.Time) (Reply, error) {
	key := strings.ToLower(strings.TrimSpace(difficulty))
	if !o.catalogue.HasDifficulty(key) {
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownDifficulty, difficulty)
	}
	return o.updateProfile(ctx, userKey, ts, func(p *persona.Profile) { p.Difficulty = key })
}

// Status describes the user's current persona. It writes nothing.
func (o *Orchestrator) Status(ctx context.Context, userKey string) (Reply, error) {
	p, err := o.persona(ctx, userKey)
	if err != nil {
		return Reply{}, err
	}
	text := fmt.Sprintf("Language: %s (%s)\nDifficulty: %s (%s)",
		p.TargetLanguage, p.LanguageKey(), p.Difficulty, p.DifficultyKey())
	return Reply{Text: text, State: StateInfo}, nil
}

func (o *Orchestrator) updateProfile(ctx context.Context, userKey string, _ time.Time, apply func(*persona.Profile)) (Reply, error) {
	logger := observability.WithTrace(ctx).With("user", userKey)

	current, err := o.profiles.GetProfile(ctx, userKey)
	if err != nil {
		return Reply{}, &StorageError{Op: "get profile", Err: err}
	}
	prof := persona.Profile{
		UserKey:        userKey,
		TargetLanguage: o.catalogue.DefaultLanguage,
		Difficulty:     o.catalogue.DefaultDifficulty,
	}
	if current != nil {
		if o.catalogue.HasLanguage(current.TargetLanguage) {
			prof.TargetLanguage = current.TargetLanguage
		}
		if o.catalogue.HasDifficulty(current.Difficulty) {
			prof.Difficulty = current.Difficulty
		}
	}
	apply(&prof)
	prof.UpdatedAt = o.now()

	p, err := o.catalogue.Resolve(&prof, o.resetCommand)
	if err != nil {
		return Reply{}, err
	}
	clk, err := o.clockFor(ctx, userKey)
	if err != nil {
		return Reply{}, err
	}
	if err := o.profiles.SaveProfile(ctx, prof); err != nil {
		return Reply{}, &StorageError{Op: "save profile", Err: err}
	}
	if _, err := o.log.Append(ctx, userKey, "/"+p.LanguageKey()+" /"+p.DifficultyKey(), memory.KindBotReset, clk.next()); err != nil {
		return Reply{}, &StorageError{Op: "append reset", Err: err}
	}
	if _, err := o.log.Append(ctx, userKey, p.WelcomeMessage, memory.KindBotMessage, clk.next()); err != nil {
		return Reply{}, &StorageError{Op: "append bot message", Err: err}
	}

	logger.Info("tutor: profile updated", "language", prof.TargetLanguage, "difficulty", prof.Difficulty)
	return Reply{Text: p.WelcomeMessage, State: StateProfile}, nil
}

// starter asks for an opening line on a random topic with no prior turns and
// appends it as the bot's message.
func (o *Orchestrator) starter(ctx context.Context, logger *slog.Logger, userKey string, p persona.Persona, clk *logClock, welcome bool, state State) (Reply, error) {
	topic := o.topic()
	completion, err := o.provider.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: p.StarterInstruction(topic)},
	})
	if err != nil {
		logger.Warn("tutor: starter generation failed", "err", err, "topic", topic)
		return Reply{}, &GenerationError{Err: err}
	}

	text := strings.TrimSpace(completion.Message.Content)
	if welcome && p.WelcomeMessage != "" {
		text = p.WelcomeMessage + "\n" + text
	}
	if _, err := o.log.Append(ctx, userKey, text, memory.KindBotMessage, clk.next()); err != nil {
		return Reply{}, &StorageError{Op: "append bot message", Err: err}
	}

	logger.Debug("tutor: starter generated", "topic", topic, "state", state)
	return Reply{Text: text, State: state, Usage: completion.Usage}, nil
}

// persona resolves the user's profile against the catalogue. Profiles that
// name entries no longer in the catalogue fall back to the defaults.
func (o *Orchestrator) persona(ctx context.Context, userKey string) (persona.Persona, error) {
	prof, err := o.profiles.GetProfile(ctx, userKey)
	if err != nil {
		return persona.Persona{}, &StorageError{Op: "get profile", Err: err}
	}
	p, err := o.catalogue.Resolve(prof, o.resetCommand)
	if err == nil {
		return p, nil
	}

	observability.WithTrace(ctx).Warn("tutor: stored profile no longer resolves, using defaults",
		"user", userKey, "err", err)
	return o.catalogue.Resolve(nil, o.resetCommand)
}

// logClock stamps the records appended during one call. A stamp is never
// earlier than the newest record already in the user's log, so (timestamp,
// id) order matches insertion order even if the wall clock steps back.
type logClock struct {
	now  func() time.Time
	last time.Time
}

func (c *logClock) next() time.Time {
	t := c.now()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// clockAfter starts a logClock at the newest of records.
func (o *Orchestrator) clockAfter(records []memory.Record) *logClock {
	clk := &logClock{now: o.now}
	if n := len(records); n > 0 {
		clk.last = records[n-1].Timestamp
	}
	return clk
}

// clockFor reads the newest record of the user's log and starts a logClock
// after it.
func (o *Orchestrator) clockFor(ctx context.Context, userKey string) (*logClock, error) {
	records, err := o.log.ReadOrdered(ctx, userKey, 1)
	if err != nil {
		return nil, &StorageError{Op: "read history", Err: err}
	}
	return o.clockAfter(records), nil
}

// withReminder returns a copy of turns with reminder appended to the most
// recent user turn.
func withReminder(turns []memory.Turn, reminder string) []memory.Turn {
	out := make([]memory.Turn, len(turns))
	copy(out, turns)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == memory.RoleUser {
			out[i].Content = out[i].Content + "\n\n" + reminder
			break
		}
	}
	return out
}
