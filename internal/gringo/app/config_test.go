package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test-key")
	t.Setenv("LLM_BACKEND", "")
	t.Setenv("MATRIX_HOMESERVER", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("WHATSAPP_ENABLED", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLMBackend != BackendOpenAI {
		t.Errorf("backend = %q", cfg.LLMBackend)
	}
	if cfg.MaxTokens != 3000 || cfg.HistoryLimit != 100 || cfg.ResetCommand != "/reset" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ProcessedRetention != 48*time.Hour {
		t.Errorf("retention = %v", cfg.ProcessedRetention)
	}
	if cfg.Matrix != nil || cfg.Telegram != nil || cfg.WhatsApp != nil {
		t.Error("no transport should be enabled without credentials")
	}
}

func TestLoadConfig_Transports(t *testing.T) {
	t.Setenv("LLM_BACKEND", "ollama")
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USER_ID", "@gringo:example.org")
	t.Setenv("MATRIX_ACCESS_TOKEN", "syt_secret")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("RESET_COMMAND", "/restart")
	t.Setenv("WHATSAPP_ENABLED", "true")
	t.Setenv("WHATSAPP_DB_PATH", "/tmp/wa.db")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Matrix == nil || cfg.Matrix.UserID != "@gringo:example.org" {
		t.Errorf("matrix config: %+v", cfg.Matrix)
	}
	if cfg.Telegram == nil || cfg.Telegram.ResetCommand != "/restart" {
		t.Errorf("telegram config: %+v", cfg.Telegram)
	}
	if cfg.WhatsApp == nil || cfg.WhatsApp.DBPath != "/tmp/wa.db" {
		t.Errorf("whatsapp config: %+v", cfg.WhatsApp)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"LLM_BACKEND": "carrier-pigeon"}},
		{"openai without key", map[string]string{"LLM_BACKEND": "openai", "LLM_API_KEY": "", "OPENAI_API_KEY": "", "LLM_BASE_URL": ""}},
		{"matrix without token", map[string]string{"LLM_BACKEND": "ollama", "MATRIX_HOMESERVER": "https://m.example.org", "MATRIX_USER_ID": "@x:y", "MATRIX_ACCESS_TOKEN": ""}},
		{"bad history limit", map[string]string{"LLM_BACKEND": "ollama", "HISTORY_LIMIT": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
