package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gringolingo/gringolingo/internal/gringo/persona"
)

// GetProfile returns the stored profile for userKey, or (nil, nil) when the
// user never picked a language or difficulty.
func (s *Store) GetProfile(ctx context.Context, userKey string) (*persona.Profile, error) {
	var (
		p       persona.Profile
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_key, target_language, difficulty, updated_at
		FROM profiles WHERE user_key = ?
	`, userKey).Scan(&p.UserKey, &p.TargetLanguage, &p.Difficulty, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return &p, nil
}

// SaveProfile inserts or replaces the user's profile.
func (s *Store) SaveProfile(ctx context.Context, p persona.Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_key, target_language, difficulty, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_key) DO UPDATE SET
			target_language = excluded.target_language,
			difficulty      = excluded.difficulty,
			updated_at      = excluded.updated_at
	`, p.UserKey, p.TargetLanguage, p.Difficulty, p.UpdatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
