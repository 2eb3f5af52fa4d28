package audit

import (
	"context"
)

// Store persists audit records.
// Implementations: SQLite (internal/adapter/outbound/sqlite).
type Store interface {
	// WriteBatch persists a batch of records.
	WriteBatch(ctx context.Context, records []Record) error
}
