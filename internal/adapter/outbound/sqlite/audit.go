package sqlite

import (
	"context"
	"fmt"

	"github.com/agendasalud/authd/internal/domain/audit"
)

// WriteBatch persists a batch of audit records in one transaction.
func (s *Store) WriteBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO audit_log (id, user_id, action, email, ip_address, user_agent, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx,
			record.ID,
			record.UserID,
			record.Action,
			record.Email,
			record.IPAddress,
			record.UserAgent,
			toMillis(record.Timestamp),
		); err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// RecentAuditRecords returns the n most recent audit records, newest first.
func (s *Store) RecentAuditRecords(ctx context.Context, n int) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, action, email, ip_address, user_agent, timestamp
FROM audit_log
ORDER BY timestamp DESC
LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []audit.Record
	for rows.Next() {
		var record audit.Record
		var ts int64
		if err := rows.Scan(&record.ID, &record.UserID, &record.Action,
			&record.Email, &record.IPAddress, &record.UserAgent, &ts); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		record.Timestamp = fromMillis(ts)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

var _ audit.Store = (*Store)(nil)
