package redact_test

import (
	"testing"

	"github.com/gringolingo/gringolingo/common/redact"
)

func TestString(t *testing.T) {
	token := "123456:ABC-telegram-token"
	line := "Post https://api.telegram.org/bot123456:ABC-telegram-token/getUpdates: timeout"
	want := "Post https://api.telegram.org/bot[REDACTED]/getUpdates: timeout"
	if got := redact.String(line, token); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestString_ShortAndEmptySecrets(t *testing.T) {
	line := "abc def"
	if got := redact.String(line, "abc", ""); got != line {
		t.Errorf("short secrets must be ignored, got %q", got)
	}
}

func TestURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://gringo:s3cret@db:5432/gringo?sslmode=disable", "postgres://gringo:[REDACTED]@db:5432/gringo?sslmode=disable"},
		{"postgres://gringo@db/gringo", "postgres://gringo@db/gringo"},
		{"bolt:///var/lib/gringo.db", "bolt:///var/lib/gringo.db"},
		{"/data/gringo.db", "/data/gringo.db"},
	}
	for _, tt := range tests {
		if got := redact.URL(tt.in); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
