package store

import (
	"context"
	"fmt"
	"time"
)

// MarkProcessed records that the platform event has been accepted. It
// returns false when the event was already recorded, i.e. the delivery is a
// duplicate.
func (s *Store) MarkProcessed(ctx context.Context, platform, eventID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_events (platform, event_id, seen_at)
		VALUES (?, ?, ?)
		ON CONFLICT(platform, event_id) DO NOTHING
	`, platform, eventID, time.Now().UTC().UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// ForgetProcessed drops the entry for (platform, eventID) so a redelivery is
// handled again. Forgetting an unknown event is not an error.
func (s *Store) ForgetProcessed(ctx context.Context, platform, eventID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE platform = ? AND event_id = ?`, platform, eventID); err != nil {
		return fmt.Errorf("failed to forget processed event: %w", err)
	}
	return nil
}

// PruneProcessed deletes de-duplication entries older than cutoff and
// returns how many were removed. Platforms only redeliver within hours, so
// the table does not need to grow forever.
func (s *Store) PruneProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE seen_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	return res.RowsAffected()
}
