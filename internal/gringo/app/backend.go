package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gringolingo/gringolingo/common/redact"
	"github.com/gringolingo/gringolingo/internal/gringo/store"
	"github.com/gringolingo/gringolingo/internal/gringo/store/boltstore"
	"github.com/gringolingo/gringolingo/internal/gringo/store/pgstore"
	"github.com/gringolingo/gringolingo/internal/gringo/tutor"
)

// Backend is everything the app persists: the message log, user profiles
// and inbound de-duplication.
type Backend interface {
	tutor.MessageLog
	tutor.ProfileStore
	EventLog
	MessageCount(ctx context.Context) (int, error)
	PruneProcessed(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// EventLog remembers which platform events were already handled.
type EventLog interface {
	MarkProcessed(ctx context.Context, platform, eventID string) (bool, error)
	ForgetProcessed(ctx context.Context, platform, eventID string) error
}

var (
	_ Backend = (*store.Store)(nil)
	_ Backend = (*pgstore.Store)(nil)
	_ Backend = (*boltstore.Store)(nil)
)

// OpenBackend picks the storage engine from the database URL.
func OpenBackend(ctx context.Context, databaseURL, databasePath string) (Backend, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		slog.Info("opening Postgres message log", "url", redact.URL(databaseURL))
		s, err := pgstore.New(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil

	case strings.HasPrefix(databaseURL, "bolt://"):
		path := strings.TrimPrefix(databaseURL, "bolt://")
		slog.Info("opening bbolt message log", "path", path)
		s, err := boltstore.New(path)
		if err != nil {
			return nil, fmt.Errorf("open bolt: %w", err)
		}
		return s, nil

	case databaseURL != "":
		databasePath = strings.TrimPrefix(databaseURL, "sqlite://")
	}

	slog.Info("opening SQLite message log", "path", databasePath)
	s, err := store.New(databasePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return s, nil
}

// sqlDB exposes the SQLite handle so the Matrix sync token can live next to
// the message log. Other backends keep the sync position in memory.
func sqlDB(b Backend) *sql.DB {
	if s, ok := b.(interface{ DB() *sql.DB }); ok {
		return s.DB()
	}
	return nil
}
