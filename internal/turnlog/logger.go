package turnlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/rollupim/supportchat/internal/policy"
)

// Logger is the write path used by the turn handler. It redacts text at
// this boundary (never in live session history) and absorbs store errors
// so an audit-log hiccup can never fail a turn.
type Logger struct {
	store     Store
	retention time.Duration
	logger    *slog.Logger
}

func NewLogger(store Store, retention time.Duration, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, retention: retention, logger: logger}
}

// Record redacts and appends one turn record.
func (l *Logger) Record(ctx context.Context, rec Record) {
	rec.Text, _ = policy.RedactPII(rec.Text)
	if err := l.store.Append(ctx, rec); err != nil {
		l.logger.Warn("turn log append failed", "error", err, "session_id", rec.SessionID)
	}
}

// Tail returns recent records when the underlying store supports it.
func (l *Logger) Tail(n int) []Record {
	t, ok := l.store.(Tailer)
	if !ok {
		return nil
	}
	records, err := t.Tail(n)
	if err != nil {
		l.logger.Warn("turn log tail failed", "error", err)
		return nil
	}
	return records
}

// StartPurger drops records older than the retention window on an
// interval.
func (l *Logger) StartPurger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-l.retention)
				if err := l.store.Purge(ctx, cutoff); err != nil {
					l.logger.Warn("turn log purge failed", "error", err)
				}
			}
		}
	}()
}
