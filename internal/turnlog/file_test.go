package turnlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreAppendsByDay(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	day1 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	if err := s.Append(ctx, Record{Timestamp: day1, SessionID: "s1", MessageID: 1, Role: "user", Text: "hi"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(ctx, Record{Timestamp: day2, SessionID: "s1", MessageID: 2, Role: "assistant", Text: "hello"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	for _, name := range []string{"turns-2026-08-30.jsonl", "turns-2026-08-31.jsonl"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected day file %s: %v", name, err)
		}
	}
}

func TestFileStorePurgeIsFileGranular(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	old := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	_ = s.Append(ctx, Record{Timestamp: old, SessionID: "s1", Role: "user", Text: "old"})
	_ = s.Append(ctx, Record{Timestamp: recent, SessionID: "s1", Role: "user", Text: "recent"})

	if err := s.Purge(ctx, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "turns-2026-07-01.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("old day file should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "turns-2026-08-31.jsonl")); err != nil {
		t.Fatalf("recent day file should survive: %v", err)
	}
}

func TestFileStoreTailReturnsLastRecords(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	for i := 1; i <= 5; i++ {
		_ = s.Append(ctx, Record{Timestamp: now, SessionID: "s1", MessageID: i, Role: "user", Text: "m"})
	}

	got, err := s.Tail(3)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Tail(3) returned %d records", len(got))
	}
	if got[0].MessageID != 3 || got[2].MessageID != 5 {
		t.Fatalf("Tail window wrong: %+v", got)
	}
}

func TestLoggerRedactsAtBoundary(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	defer s.Close()

	l := NewLogger(s, 24*time.Hour, nil)
	l.Record(context.Background(), Record{
		Timestamp: time.Now().UTC(),
		SessionID: "s1",
		MessageID: 1,
		Role:      "user",
		Text:      "call me at 0501234567",
	})

	got := l.Tail(1)
	if len(got) != 1 {
		t.Fatalf("Tail(1) returned %d records", len(got))
	}
	if got[0].Text != "call me at [REDACTED_PHONE]" {
		t.Fatalf("text = %q, want redacted phone", got[0].Text)
	}
}

func TestFactoryPrefersFileWithoutDatabaseURL(t *testing.T) {
	s, err := NewStore(context.Background(), "", t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("store type = %T, want *FileStore", s)
	}
}
