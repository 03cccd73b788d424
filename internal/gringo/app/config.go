package app

import (
	"fmt"
	"time"

	"github.com/gringolingo/gringolingo/common/environment"
	"github.com/gringolingo/gringolingo/internal/gringo/limits"
	"github.com/gringolingo/gringolingo/internal/gringo/matrix"
	"github.com/gringolingo/gringolingo/internal/gringo/telegram"
	"github.com/gringolingo/gringolingo/internal/gringo/tokenizer"
	"github.com/gringolingo/gringolingo/internal/gringo/tutor"
	"github.com/gringolingo/gringolingo/internal/gringo/whatsapp"
)

// Generation backends selectable with LLM_BACKEND.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Config holds application configuration.
type Config struct {
	// DatabaseURL selects the message log backend: postgres:// (or
	// postgresql://) for Postgres, bolt://<path> for a bbolt file. When empty
	// DatabasePath is opened as SQLite.
	DatabaseURL  string
	DatabasePath string

	LLMBackend string
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
	// LLMMaxTokens caps the length of one reply.
	LLMMaxTokens int
	OllamaURL    string

	TokenizerEncoding string
	MaxTokens         int
	HistoryLimit      int
	ResetCommand      string
	// PersonasFile overrides the embedded persona catalogue.
	PersonasFile string
	// DefaultLanguage and DefaultDifficulty override the catalogue defaults
	// for users who never picked one.
	DefaultLanguage   string
	DefaultDifficulty string

	// HTTPAddr is the listen address of the HTTP API. Empty disables it.
	HTTPAddr string

	RateLimitPerMinute int
	DailyTokenBudget   int
	// ProcessedRetention is how long de-duplication entries are kept.
	ProcessedRetention time.Duration
	// PruneInterval is the cadence of the housekeeping loop.
	PruneInterval time.Duration

	// Interactive is set when the caller feeds the gate itself, as the CLI
	// does, so no transport is required.
	Interactive bool

	// Transports are enabled by their credentials being present.
	Matrix          *matrix.Config
	Telegram        *telegram.Config
	WhatsApp        *whatsapp.Config
	WhatsAppEnabled bool
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	backend, err := environment.OneOf("LLM_BACKEND", BackendOpenAI, BackendOpenAI, BackendOllama)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:        environment.StringOr("DATABASE_URL", ""),
		DatabasePath:       environment.StringOr("DATABASE_PATH", "./gringolingo.db"),
		LLMBackend:         backend,
		LLMAPIKey:          environment.StringOr("LLM_API_KEY", environment.StringOr("OPENAI_API_KEY", "")),
		LLMBaseURL:         environment.StringOr("LLM_BASE_URL", ""),
		LLMModel:           environment.StringOr("LLM_MODEL", ""),
		LLMMaxTokens:       environment.IntOr("LLM_MAX_TOKENS", 0),
		OllamaURL:          environment.StringOr("OLLAMA_URL", ""),
		TokenizerEncoding:  environment.StringOr("TOKENIZER_ENCODING", tokenizer.DefaultEncoding),
		MaxTokens:          environment.IntOr("CONTEXT_MAX_TOKENS", tutor.DefaultMaxTokens),
		HistoryLimit:       environment.IntOr("HISTORY_LIMIT", tutor.DefaultHistoryLimit),
		ResetCommand:       environment.StringOr("RESET_COMMAND", tutor.DefaultResetCommand),
		PersonasFile:       environment.StringOr("PERSONAS_FILE", ""),
		DefaultLanguage:    environment.StringOr("DEFAULT_LANGUAGE", ""),
		DefaultDifficulty:  environment.StringOr("DEFAULT_DIFFICULTY", ""),
		HTTPAddr:           environment.StringOr("HTTP_ADDR", ":8080"),
		RateLimitPerMinute: environment.IntOr("RATE_LIMIT_PER_MINUTE", limits.DefaultRatePerMinute),
		DailyTokenBudget:   environment.IntOr("DAILY_TOKEN_BUDGET", limits.DefaultDailyTokenBudget),
		ProcessedRetention: environment.DurationOr("PROCESSED_RETENTION", 48*time.Hour),
		PruneInterval:      environment.DurationOr("PRUNE_INTERVAL", time.Hour),
		WhatsAppEnabled:    environment.BoolOr("WHATSAPP_ENABLED", false),
	}

	if hs := environment.StringOr("MATRIX_HOMESERVER", ""); hs != "" {
		userID, err := environment.RequiredString("MATRIX_USER_ID")
		if err != nil {
			return nil, err
		}
		token, err := environment.RequiredString("MATRIX_ACCESS_TOKEN")
		if err != nil {
			return nil, err
		}
		cfg.Matrix = &matrix.Config{Homeserver: hs, UserID: userID, AccessToken: token}
	}

	if token := environment.StringOr("TELEGRAM_BOT_TOKEN", ""); token != "" {
		cfg.Telegram = &telegram.Config{
			Token:        token,
			ResetCommand: cfg.ResetCommand,
			PollTimeout:  environment.IntOr("TELEGRAM_POLL_TIMEOUT", 60),
		}
	}

	if cfg.WhatsAppEnabled {
		cfg.WhatsApp = &whatsapp.Config{
			DBPath:   environment.StringOr("WHATSAPP_DB_PATH", "./whatsapp.db"),
			LogLevel: environment.StringOr("WHATSAPP_LOG_LEVEL", "warn"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.LLMBackend == BackendOpenAI && c.LLMAPIKey == "" && c.LLMBaseURL == "" {
		return fmt.Errorf("LLM_API_KEY is required for the openai backend (or set LLM_BASE_URL for a keyless compatible server)")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("CONTEXT_MAX_TOKENS must be non-negative, got %d", c.MaxTokens)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	}
	if c.DatabaseURL == "" && c.DatabasePath == "" {
		return fmt.Errorf("one of DATABASE_URL or DATABASE_PATH is required")
	}
	return nil
}
