package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*DBSyncStore)(nil)

// DBSyncStore keeps the bot's sync filter and next_batch token in SQLite,
// one row per bot account.
type DBSyncStore struct {
	db *sql.DB
}

func newDBSyncStore(db *sql.DB) *DBSyncStore {
	return &DBSyncStore{db: db}
}

func (s *DBSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, filter_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET filter_id = excluded.filter_id, updated_at = excluded.updated_at
	`, userID.String(), filterID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save sync filter: %w", err)
	}
	return nil
}

func (s *DBSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, next_batch, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET next_batch = excluded.next_batch, updated_at = excluded.updated_at
	`, userID.String(), nextBatchToken, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save sync token: %w", err)
	}
	return nil
}

func (s *DBSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	filterID, _, err := s.load(ctx, userID)
	return filterID, err
}

func (s *DBSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	_, nextBatch, err := s.load(ctx, userID)
	return nextBatch, err
}

// load returns empty strings for an account that never synced.
func (s *DBSyncStore) load(ctx context.Context, userID id.UserID) (filterID, nextBatch string, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT filter_id, next_batch FROM matrix_sync_state WHERE user_id = ?`,
		userID.String(),
	).Scan(&filterID, &nextBatch)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("load sync state: %w", err)
	}
	return filterID, nextBatch, nil
}
