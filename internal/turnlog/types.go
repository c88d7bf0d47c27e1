package turnlog

import (
	"context"
	"time"
)

// Record is one redacted user or assistant turn in the audit log.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	MessageID int       `json:"message_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Tool      string    `json:"tool,omitempty"`
	Model     string    `json:"model,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
}

// Store persists turn records. Records are append-only; the only removal
// path is the age-based purge.
type Store interface {
	Append(ctx context.Context, record Record) error
	Purge(ctx context.Context, olderThan time.Time) error
	Close() error
}

// Tailer is implemented by stores that can serve the debug log tail.
type Tailer interface {
	Tail(n int) ([]Record, error)
}
