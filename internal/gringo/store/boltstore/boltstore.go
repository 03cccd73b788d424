// Package boltstore keeps the message log and profiles in a single BoltDB
// file. It suits single-process deployments that do not want SQLite.
//
// Layout:
//
//	messages/<user_key>/<ts_be64><id_be64> -> JSON record
//	profiles/<user_key>                    -> JSON profile
//	events/<platform>\x00<event_id>        -> seen_at (be64 unix nanos)
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/gringolingo/gringolingo/internal/gringo/memory"
	"github.com/gringolingo/gringolingo/internal/gringo/persona"
)

var (
	bucketMessages = []byte("messages")
	bucketProfiles = []byte("profiles")
	bucketEvents   = []byte("events")
)

// Store is a BoltDB-backed message log.
type Store struct {
	db *bolt.DB
}

type storedRecord struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Kind    string `json:"kind"`
	TS      int64  `json:"ts"`
}

type storedProfile struct {
	TargetLanguage string `json:"target_language"`
	Difficulty     string `json:"difficulty"`
	UpdatedAt      int64  `json:"updated_at"`
}

// New opens (or creates) the BoltDB file at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMessages, bucketProfiles, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// messageKey sorts by timestamp first and insertion id second. Timestamps
// before 1970 clamp to zero.
func messageKey(ts time.Time, id int64) []byte {
	nano := ts.UnixNano()
	if nano < 0 {
		nano = 0
	}
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(nano))
	binary.BigEndian.PutUint64(key[8:], uint64(id))
	return key
}

func eventKey(platform, eventID string) []byte {
	return []byte(platform + "\x00" + eventID)
}

// Append writes one record and returns it with its ID. The write is synced
// to disk before Append returns.
func (s *Store) Append(ctx context.Context, userKey, content string, kind memory.Kind, ts time.Time) (*memory.Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid record kind %q", kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	rec := &memory.Record{UserKey: userKey, Content: content, Timestamp: ts, Kind: kind}
	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketMessages)
		seq, err := root.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = int64(seq)

		user, err := root.CreateBucketIfNotExists([]byte(userKey))
		if err != nil {
			return err
		}
		val, err := json.Marshal(storedRecord{ID: rec.ID, Content: content, Kind: string(kind), TS: ts.UnixNano()})
		if err != nil {
			return err
		}
		return user.Put(messageKey(ts, rec.ID), val)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return rec, nil
}

// ReadOrdered returns at most limit of the user's most recent records,
// oldest first.
func (s *Store) ReadOrdered(ctx context.Context, userKey string, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []memory.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		user := tx.Bucket(bucketMessages).Bucket([]byte(userKey))
		if user == nil {
			return nil
		}
		c := user.Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var sr storedRecord
			if err := json.Unmarshal(v, &sr); err != nil {
				return fmt.Errorf("decode record %x: %w", k, err)
			}
			records = append(records, memory.Record{
				ID:        sr.ID,
				UserKey:   userKey,
				Content:   sr.Content,
				Timestamp: time.Unix(0, sr.TS).UTC(),
				Kind:      memory.Kind(sr.Kind),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// MessageCount returns the total number of records across all users.
func (s *Store) MessageCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketMessages)
		return root.ForEachBucket(func(k []byte) error {
			n += root.Bucket(k).Stats().KeyN
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// GetProfile returns the user's profile, or (nil, nil) if none is stored.
func (s *Store) GetProfile(ctx context.Context, userKey string) (*persona.Profile, error) {
	var out *persona.Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketProfiles).Get([]byte(userKey))
		if v == nil {
			return nil
		}
		var sp storedProfile
		if err := json.Unmarshal(v, &sp); err != nil {
			return err
		}
		out = &persona.Profile{
			UserKey:        userKey,
			TargetLanguage: sp.TargetLanguage,
			Difficulty:     sp.Difficulty,
			UpdatedAt:      time.Unix(0, sp.UpdatedAt).UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return out, nil
}

// SaveProfile inserts or replaces the user's profile.
func (s *Store) SaveProfile(ctx context.Context, p persona.Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	val, err := json.Marshal(storedProfile{
		TargetLanguage: p.TargetLanguage,
		Difficulty:     p.Difficulty,
		UpdatedAt:      p.UpdatedAt.UTC().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).Put([]byte(p.UserKey), val)
	})
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// MarkProcessed returns false when (platform, eventID) was already recorded.
func (s *Store) MarkProcessed(ctx context.Context, platform, eventID string) (bool, error) {
	fresh := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		key := eventKey(platform, eventID)
		if b.Get(key) != nil {
			return nil
		}
		fresh = true
		seen := make([]byte, 8)
		binary.BigEndian.PutUint64(seen, uint64(time.Now().UnixNano()))
		return b.Put(key, seen)
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return fresh, nil
}

// ForgetProcessed drops the entry for (platform, eventID).
func (s *Store) ForgetProcessed(ctx context.Context, platform, eventID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).Delete(eventKey(platform, eventID))
	})
	if err != nil {
		return fmt.Errorf("failed to forget processed event: %w", err)
	}
	return nil
}

// PruneProcessed deletes de-duplication entries older than cutoff.
func (s *Store) PruneProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	limit := uint64(cutoff.UnixNano())
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if len(v) == 8 && binary.BigEndian.Uint64(v) < limit {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	return removed, nil
}
