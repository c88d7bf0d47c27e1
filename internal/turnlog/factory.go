package turnlog

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise the
// day-partitioned file store.
func NewStore(ctx context.Context, databaseURL, dir string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewFileStore(dir)
	}
	return NewPostgresStore(ctx, databaseURL)
}
