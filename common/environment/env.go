// Package environment reads process configuration from environment
// variables, optionally seeded from .env files.
//
// The *Or helpers fall back to the default when a variable is unset, empty
// or malformed; RequiredString reports an error instead of exiting.
package environment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the given .env files into the process environment. Variables
// already set win over file values. Missing files are skipped, so a bare
// deployment without a .env works unchanged.
func Load(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// StringOr returns the variable, or def when it is unset or empty.
func StringOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// RequiredString returns the variable or an error naming it.
func RequiredString(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// OneOf returns the lower-cased variable when it is one of allowed, def when
// it is unset, and an error otherwise.
func OneOf(name, def string, allowed ...string) (string, error) {
	v := strings.ToLower(StringOr(name, def))
	if !slices.Contains(allowed, v) {
		return "", fmt.Errorf("%s=%q: must be one of %s", name, v, strings.Join(allowed, ", "))
	}
	return v, nil
}

func BoolOr(name string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(name))
	if err != nil {
		return def
	}
	return b
}

func IntOr(name string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return def
	}
	return n
}

// DurationOr parses values such as "90s" or "24h".
func DurationOr(name string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return def
	}
	return d
}
