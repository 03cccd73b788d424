// Package app assembles Gringo Lingo: storage, the tutor, the gate and
// whichever transports are configured.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gringolingo/gringolingo/internal/gringo/limits"
	"github.com/gringolingo/gringolingo/internal/gringo/llm"
	"github.com/gringolingo/gringolingo/internal/gringo/matrix"
	"github.com/gringolingo/gringolingo/internal/gringo/persona"
	"github.com/gringolingo/gringolingo/internal/gringo/telegram"
	"github.com/gringolingo/gringolingo/internal/gringo/tokenizer"
	"github.com/gringolingo/gringolingo/internal/gringo/tutor"
	"github.com/gringolingo/gringolingo/internal/gringo/whatsapp"
)

// rateLimiterIdle is how long an idle user's rate bucket is kept.
const rateLimiterIdle = 30 * time.Minute

// App is the running bot.
type App struct {
	cfg     *Config
	backend Backend
	gate    *Gate
	rate    *limits.RateLimiter
	server  *Server

	matrix   *matrix.Client
	telegram *telegram.Bot
	whatsapp *whatsapp.Client
}

// New opens storage and builds every configured component. Nothing talks
// to the network until Run.
func New(ctx context.Context, cfg *Config) (*App, error) {
	catalogue, err := LoadCatalogue(cfg.PersonasFile, cfg.DefaultLanguage, cfg.DefaultDifficulty)
	if err != nil {
		return nil, err
	}

	counter, err := tokenizer.New(cfg.TokenizerEncoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	slog.Info("tokenizer ready", "scheme", counter.Scheme())

	backend, err := OpenBackend(ctx, cfg.DatabaseURL, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	a, err := build(ctx, cfg, backend, catalogue, counter, NewProvider(cfg))
	if err != nil {
		backend.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *Config, backend Backend, catalogue *persona.Catalogue, counter tokenizer.Tokenizer, provider llm.Provider) (*App, error) {
	orchestrator, err := tutor.New(tutor.Config{
		Log:          backend,
		Profiles:     backend,
		Provider:     provider,
		Counter:      counter,
		Catalogue:    catalogue,
		MaxTokens:    cfg.MaxTokens,
		HistoryLimit: cfg.HistoryLimit,
		ResetCommand: cfg.ResetCommand,
	})
	if err != nil {
		return nil, err
	}

	rate := limits.NewRateLimiter(cfg.RateLimitPerMinute)
	gate, err := NewGate(GateConfig{
		Tutor:       orchestrator,
		Catalogue:   catalogue,
		Events:      backend,
		RateLimiter: rate,
		TokenBudget: limits.NewTokenBudget(cfg.DailyTokenBudget),
	})
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, backend: backend, gate: gate, rate: rate}

	if cfg.Matrix != nil {
		mcfg := *cfg.Matrix
		mcfg.DB = sqlDB(backend)
		if a.matrix, err = matrix.New(mcfg, gate); err != nil {
			return nil, err
		}
	}
	if cfg.Telegram != nil {
		if a.telegram, err = telegram.New(*cfg.Telegram, gate); err != nil {
			return nil, err
		}
	}
	if cfg.WhatsApp != nil {
		if a.whatsapp, err = whatsapp.New(ctx, *cfg.WhatsApp, gate); err != nil {
			return nil, err
		}
	}

	if cfg.HTTPAddr != "" {
		scfg := ServerConfig{Addr: cfg.HTTPAddr, Handler: gate, Stats: backend}
		if a.whatsapp != nil {
			scfg.QR = a.whatsapp
		}
		a.server = NewServer(scfg)
	}

	if !cfg.Interactive && a.server == nil && a.matrix == nil && a.telegram == nil && a.whatsapp == nil {
		return nil, errors.New("no transport configured: set HTTP_ADDR, MATRIX_HOMESERVER, TELEGRAM_BOT_TOKEN or WHATSAPP_ENABLED")
	}
	return a, nil
}

// NewProvider returns the generation backend named by cfg.LLMBackend.
func NewProvider(cfg *Config) llm.Provider {
	if cfg.LLMBackend == BackendOllama {
		return llm.NewOllama(llm.OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.LLMModel})
	}
	return llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:    cfg.LLMAPIKey,
		BaseURL:   cfg.LLMBaseURL,
		Model:     cfg.LLMModel,
		MaxTokens: cfg.LLMMaxTokens,
	})
}

// LoadCatalogue returns the embedded catalogue, or the file at path, with
// the defaults for new users optionally overridden.
func LoadCatalogue(path, defaultLanguage, defaultDifficulty string) (*persona.Catalogue, error) {
	catalogue := persona.Default()
	if path != "" {
		c, err := persona.LoadFile(path)
		if err != nil {
			return nil, err
		}
		catalogue = c
	}
	if defaultLanguage != "" {
		if !catalogue.HasLanguage(defaultLanguage) {
			return nil, fmt.Errorf("DEFAULT_LANGUAGE %q is not in the persona catalogue", defaultLanguage)
		}
		catalogue.DefaultLanguage = defaultLanguage
	}
	if defaultDifficulty != "" {
		if !catalogue.HasDifficulty(defaultDifficulty) {
			return nil, fmt.Errorf("DEFAULT_DIFFICULTY %q is not in the persona catalogue", defaultDifficulty)
		}
		catalogue.DefaultDifficulty = defaultDifficulty
	}
	return catalogue, nil
}

// Handler is the gate every transport feeds. The CLI uses it directly.
func (a *App) Handler() *Gate { return a.gate }

// Run starts the transports and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Start(ctx); err != nil {
			return err
		}
	}
	if a.matrix != nil {
		if err := a.matrix.Start(ctx); err != nil {
			return fmt.Errorf("failed to start Matrix client: %w", err)
		}
	}
	if a.telegram != nil {
		if err := a.telegram.Start(ctx); err != nil {
			return fmt.Errorf("failed to start Telegram bot: %w", err)
		}
	}
	if a.whatsapp != nil {
		if err := a.whatsapp.Start(ctx); err != nil {
			return fmt.Errorf("failed to start WhatsApp client: %w", err)
		}
	}

	slog.Info("Gringo Lingo is running")

	interval := a.cfg.PruneInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			return nil
		case <-ticker.C:
			a.housekeeping(ctx)
		}
	}
}

// housekeeping forgets old de-duplication entries and idle rate buckets.
func (a *App) housekeeping(ctx context.Context) {
	retention := a.cfg.ProcessedRetention
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	n, err := a.backend.PruneProcessed(ctx, time.Now().Add(-retention))
	if err != nil {
		slog.Warn("prune processed events", "err", err)
	} else if n > 0 {
		slog.Debug("pruned processed events", "count", n)
	}
	if swept := a.rate.Sweep(rateLimiterIdle); swept > 0 {
		slog.Debug("swept idle rate limiters", "count", swept)
	}
}

// Stop disconnects the transports and closes storage.
func (a *App) Stop() {
	if a.matrix != nil {
		slog.Info("stopping Matrix client")
		a.matrix.Stop()
	}
	if a.telegram != nil {
		slog.Info("stopping Telegram bot")
		a.telegram.Stop()
	}
	if a.whatsapp != nil {
		slog.Info("stopping WhatsApp client")
		a.whatsapp.Stop()
	}
	if a.server != nil {
		a.server.Stop()
	}
	slog.Info("closing database")
	if err := a.backend.Close(); err != nil {
		slog.Warn("close database", "err", err)
	}
}
