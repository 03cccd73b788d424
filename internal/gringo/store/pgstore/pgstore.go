// Package pgstore is the PostgreSQL message log and profile store, used when
// several replicas share one database.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gringolingo/gringolingo/internal/gringo/memory"
	"github.com/gringolingo/gringolingo/internal/gringo/persona"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to connString, verifies the connection and creates the schema
// if it is missing.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks database reachability for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var schema = []struct {
	name string
	sql  string
}{
	{"messages table", `
		CREATE TABLE IF NOT EXISTS messages (
			id           BIGSERIAL PRIMARY KEY,
			user_key     TEXT   NOT NULL,
			content      TEXT   NOT NULL,
			ts_unix_nano BIGINT NOT NULL,
			kind         TEXT   NOT NULL CHECK (kind IN ('user_message', 'bot_message', 'system', 'user_reset', 'bot_reset'))
		)`},
	{"messages index", `
		CREATE INDEX IF NOT EXISTS idx_messages_user_ts ON messages (user_key, ts_unix_nano, id)`},
	{"append-only function", `
		CREATE OR REPLACE FUNCTION messages_append_only() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'messages is append-only';
		END;
		$$ LANGUAGE plpgsql`},
	{"append-only trigger", `
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'messages_append_only') THEN
				CREATE TRIGGER messages_append_only
				BEFORE UPDATE OR DELETE ON messages
				FOR EACH ROW EXECUTE FUNCTION messages_append_only();
			END IF;
		END
		$$`},
	{"profiles table", `
		CREATE TABLE IF NOT EXISTS profiles (
			user_key        TEXT PRIMARY KEY,
			target_language TEXT   NOT NULL,
			difficulty      TEXT   NOT NULL,
			updated_at      BIGINT NOT NULL
		)`},
	{"processed events table", `
		CREATE TABLE IF NOT EXISTS processed_events (
			platform TEXT   NOT NULL,
			event_id TEXT   NOT NULL,
			seen_at  BIGINT NOT NULL,
			PRIMARY KEY (platform, event_id)
		)`},
}

func (s *Store) migrate(ctx context.Context) error {
	for _, step := range schema {
		if _, err := s.pool.Exec(ctx, step.sql); err != nil {
			return fmt.Errorf("create %s: %w", step.name, err)
		}
	}
	return nil
}

// Append writes one record and returns it with its ID.
func (s *Store) Append(ctx context.Context, userKey, content string, kind memory.Kind, ts time.Time) (*memory.Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid record kind %q", kind)
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (user_key, content, ts_unix_nano, kind)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, userKey, content, ts.UnixNano(), string(kind)).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	return &memory.Record{ID: id, UserKey: userKey, Content: content, Timestamp: ts, Kind: kind}, nil
}

// ReadOrdered returns at most limit of the user's most recent records,
// oldest first.
func (s *Store) ReadOrdered(ctx context.Context, userKey string, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_key, content, ts_unix_nano, kind FROM (
			SELECT id, user_key, content, ts_unix_nano, kind
			FROM messages
			WHERE user_key = $1
			ORDER BY ts_unix_nano DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY ts_unix_nano ASC, id ASC
	`, userKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var records []memory.Record
	for rows.Next() {
		var (
			rec  memory.Record
			nano int64
			kind string
		)
		if err := rows.Scan(&rec.ID, &rec.UserKey, &rec.Content, &nano, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		rec.Timestamp = time.Unix(0, nano).UTC()
		rec.Kind = memory.Kind(kind)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return records, nil
}

// MessageCount returns the total number of records across all users.
func (s *Store) MessageCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// GetProfile returns the user's profile, or (nil, nil) if none is stored.
func (s *Store) GetProfile(ctx context.Context, userKey string) (*persona.Profile, error) {
	var (
		p       persona.Profile
		updated int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_key, target_language, difficulty, updated_at
		FROM profiles WHERE user_key = $1
	`, userKey).Scan(&p.UserKey, &p.TargetLanguage, &p.Difficulty, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (user_key, target_language, difficulty, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_key) DO UPDATE SET
			target_language = EXCLUDED.target_language,
			difficulty      = EXCLUDED.difficulty,
			updated_at      = EXCLUDED.updated_at
	`, p.UserKey, p.TargetLanguage, p.Difficulty, p.UpdatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// MarkProcessed returns false when (platform, eventID) was already recorded.
func (s *Store) MarkProcessed(ctx context.Context, platform, eventID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_events (platform, event_id, seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (platform, event_id) DO NOTHING
	`, platform, eventID, time.Now().UTC().UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ForgetProcessed drops the entry for (platform, eventID).
func (s *Store) ForgetProcessed(ctx context.Context, platform, eventID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE platform = $1 AND event_id = $2`, platform, eventID); err != nil {
		return fmt.Errorf("failed to forget processed event: %w", err)
	}
	return nil
}

// PruneProcessed deletes de-duplication entries older than cutoff.
func (s *Store) PruneProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE seen_at < $1`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}
