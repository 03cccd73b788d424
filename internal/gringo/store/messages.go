package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gringolingo/gringolingo/internal/gringo/memory"
)

// Append writes one record to the user's log and returns it with its ID.
// A zero timestamp is replaced by the current time. The row is committed
// before Append returns.
func (s *Store) Append(ctx context.Context, userKey, content string, kind memory.Kind, ts time.Time) (*memory.Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid record kind %q", kind)
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (user_key, content, ts_unix_nano, kind)
		VALUES (?, ?, ?, ?)
	`, userKey, content, ts.UnixNano(), string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read message id: %w", err)
	}

	return &memory.Record{
		ID:        id,
		UserKey:   userKey,
		Content:   content,
		Timestamp: ts,
		Kind:      kind,
	}, nil
}

// ReadOrdered returns at most limit of the user's most recent records,
// oldest first, ordered by (timestamp, id). A non-positive limit returns
// nothing.
func (s *Store) ReadOrdered(ctx context.Context, userKey string, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_key, content, ts_unix_nano, kind FROM (
			SELECT id, user_key, content, ts_unix_nano, kind
			FROM messages
			WHERE user_key = ?
			ORDER BY ts_unix_nano DESC, id DESC
			LIMIT ?
		)
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
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
