package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rollupim/supportchat/internal/kb"
	"github.com/rollupim/supportchat/internal/reliability"
)

const (
	promptFile   = "prompt.md"
	kbFile       = "kb.json"
	synonymsFile = "synonyms.json"
)

// Snapshot is one immutable view of the hot-reloadable content set. Turns
// in flight keep reading whichever snapshot was current when they started.
type Snapshot struct {
	Prompt   string
	KB       []kb.Entry
	Synonyms kb.Synonyms
	LoadedAt time.Time
}

// Status reports reload state for the debug endpoints.
type Status struct {
	KBEntries     int       `json:"kb_entries"`
	SynonymGroups int       `json:"synonym_groups"`
	PromptBytes   int       `json:"prompt_bytes"`
	LoadedAt      time.Time `json:"loaded_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// Store serves atomic content snapshots and refreshes them on an interval
// without blocking readers.
type Store struct {
	dir     string
	logger  *slog.Logger
	cur     atomic.Pointer[Snapshot]
	lastErr atomic.Pointer[string]
}

func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{dir: dir, logger: logger}
	s.cur.Store(&Snapshot{LoadedAt: time.Time{}})
	return s
}

// Current never returns nil; before the first successful Load it yields an
// empty snapshot.
func (s *Store) Current() *Snapshot {
	return s.cur.Load()
}

// Load reads all content files and swaps in a new snapshot. Missing files
// are tolerated: the corresponding section is simply empty.
func (s *Store) Load() error {
	snap := &Snapshot{LoadedAt: time.Now().UTC()}

	snap.Prompt = s.readOptionalText(promptFile)

	if raw, ok := s.readOptional(kbFile); ok {
		var entries []kb.Entry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return s.fail(fmt.Errorf("parse %s: %w", kbFile, err))
		}
		snap.KB = entries
	}

	if raw, ok := s.readOptional(synonymsFile); ok {
		var syn kb.Synonyms
		if err := json.Unmarshal(raw, &syn); err != nil {
			return s.fail(fmt.Errorf("parse %s: %w", synonymsFile, err))
		}
		snap.Synonyms = syn
	}

	s.cur.Store(snap)
	s.lastErr.Store(nil)
	return nil
}

// StartRefresher reloads content on the given interval. Failed reloads
// keep the previous snapshot and back off before the next attempt.
func (s *Store) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		failures := 0
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			if err := s.Load(); err != nil {
				failures++
				s.logger.Warn("content reload failed", "error", err, "failures", failures)
				timer.Reset(reliability.ExponentialBackoff(failures, interval, 10*interval))
				continue
			}
			failures = 0
			timer.Reset(interval)
		}
	}()
}

func (s *Store) Status() Status {
	snap := s.Current()
	st := Status{
		KBEntries:     len(snap.KB),
		SynonymGroups: len(snap.Synonyms),
		PromptBytes:   len(snap.Prompt),
		LoadedAt:      snap.LoadedAt,
	}
	if p := s.lastErr.Load(); p != nil {
		st.LastError = *p
	}
	return st
}

func (s *Store) readOptional(name string) ([]byte, bool) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("content file unreadable", "file", name, "error", err)
		}
		return nil, false
	}
	return raw, true
}

func (s *Store) readOptionalText(name string) string {
	raw, ok := s.readOptional(name)
	if !ok {
		return ""
	}
	return string(raw)
}

func (s *Store) fail(err error) error {
	msg := err.Error()
	s.lastErr.Store(&msg)
	return err
}
