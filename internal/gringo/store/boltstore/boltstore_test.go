package boltstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gringolingo/gringolingo/internal/gringo/memory"
	"github.com/gringolingo/gringolingo/internal/gringo/persona"
	"github.com/gringolingo/gringolingo/internal/gringo/store/boltstore"
)

func newTestStore(t *testing.T) *boltstore.Store {
	t.Helper()
	s, err := boltstore.New(filepath.Join(t.TempDir(), "data", "gringo.bolt"))
	if err != nil {
		t.Fatalf("boltstore.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndReadOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	// Appended out of timestamp order.
	appends := []struct {
		content string
		ts      time.Time
	}{
		{"c", base.Add(2 * time.Second)},
		{"a", base},
		{"b", base.Add(time.Second)},
		{"d", base.Add(2 * time.Second)},
	}
	for _, a := range appends {
		if _, err := s.Append(ctx, "u", a.content, memory.KindUserMessage, a.ts); err != nil {
			t.Fatalf("Append(%q): %v", a.content, err)
		}
	}
	if _, err := s.Append(ctx, "other", "x", memory.KindUserMessage, base); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadOrdered(ctx, "u", 100)
	if err != nil {
		t.Fatalf("ReadOrdered: %v", err)
	}
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Content != want[i] {
			t.Errorf("record %d: got %q, want %q", i, got[i].Content, want[i])
		}
	}

	recent, err := s.ReadOrdered(ctx, "u", 2)
	if err != nil {
		t.Fatalf("ReadOrdered limit: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "c" || recent[1].Content != "d" {
		t.Errorf("limit 2: got %+v", recent)
	}

	n, err := s.MessageCount(ctx)
	if err != nil {
		t.Fatalf("MessageCount: %v", err)
	}
	if n != 5 {
		t.Errorf("MessageCount: got %d, want 5", n)
	}
}

func TestReadOrdered_UnknownUser(t *testing.T) {
	s := newTestStore(t)
	got, err := s.ReadOrdered(context.Background(), "nobody", 10)
	if err != nil {
		t.Fatalf("ReadOrdered: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no records, got %d", len(got))
	}
}

func TestAppend_InvalidKind(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Append(context.Background(), "u", "x", memory.Kind("nope"), time.Time{}); err == nil {
		t.Fatal("expected error for invalid kind")
	}
}

func TestProfiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if p, err := s.GetProfile(ctx, "u"); err != nil || p != nil {
		t.Fatalf("GetProfile empty: %+v, %v", p, err)
	}
	if err := s.SaveProfile(ctx, persona.Profile{UserKey: "u", TargetLanguage: "english", Difficulty: "medium"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	p, err := s.GetProfile(ctx, "u")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.TargetLanguage != "english" || p.Difficulty != "medium" || p.UserKey != "u" {
		t.Errorf("profile: %+v", p)
	}
}

func TestMarkProcessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.MarkProcessed(ctx, "whatsapp", "ABC")
	if err != nil || !first {
		t.Fatalf("first: %v, %v", first, err)
	}
	again, err := s.MarkProcessed(ctx, "whatsapp", "ABC")
	if err != nil || again {
		t.Fatalf("again: %v, %v", again, err)
	}

	removed, err := s.PruneProcessed(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PruneProcessed: %v", err)
	}
	if removed != 1 {
		t.Errorf("PruneProcessed: got %d, want 1", removed)
	}
	fresh, err := s.MarkProcessed(ctx, "whatsapp", "ABC")
	if err != nil || !fresh {
		t.Fatalf("after prune: %v, %v", fresh, err)
	}

	if err := s.ForgetProcessed(ctx, "whatsapp", "ABC"); err != nil {
		t.Fatalf("ForgetProcessed: %v", err)
	}
	if again, err := s.MarkProcessed(ctx, "whatsapp", "ABC"); err != nil || !again {
		t.Fatalf("after forget: %v, %v", again, err)
	}
	if err := s.ForgetProcessed(ctx, "whatsapp", "never-seen"); err != nil {
		t.Errorf("forgetting an unknown event: %v", err)
	}
}
