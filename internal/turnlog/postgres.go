package turnlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore archives turn records in PostgreSQL for deployments that
// need the audit log to survive restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turn_log (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			message_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			tool TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			latency_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turn_log_session_created ON turn_log (session_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_turn_log_created ON turn_log (created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO turn_log (id, session_id, message_id, role, text, tool, model, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID,
		record.SessionID,
		record.MessageID,
		record.Role,
		record.Text,
		record.Tool,
		record.Model,
		record.LatencyMS,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append turn record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Purge(ctx context.Context, olderThan time.Time) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM turn_log WHERE created_at < $1`, olderThan); err != nil {
		return fmt.Errorf("purge turn log: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
