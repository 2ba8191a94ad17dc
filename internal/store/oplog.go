package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tetherhq/tether/pkg/models"
)

// AppendLogEntry appends one operation-log entry. Entries are never
// mutated afterward; the id and timestamp are filled in when absent.
func (s *Store) AppendLogEntry(ctx context.Context, entry models.OperationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := s.rebind(`
		INSERT INTO operation_log (id, mapping_id, operation, status, message, records_affected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.MappingID, string(entry.Operation), entry.Status,
		entry.Message, entry.RecordsAffected, entry.CreatedAt)
	return err
}

// LogSummary builds the dashboard read model: totals plus the most recent
// entries, newest first.
func (s *Store) LogSummary(ctx context.Context, limit int) (models.OperationLogSummary, error) {
	summary := models.OperationLogSummary{}

	countQuery := s.rebind(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM operation_log`)
	err := s.db.QueryRowContext(ctx, countQuery, models.LogStatusSuccess, models.LogStatusError).
		Scan(&summary.Total, &summary.SuccessCount, &summary.ErrorCount)
	if err != nil {
		return models.OperationLogSummary{}, err
	}

	if limit <= 0 {
		return summary, nil
	}

	recentQuery := s.rebind(`
		SELECT id, mapping_id, operation, status, message, records_affected, created_at
		FROM operation_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, recentQuery, limit)
	if err != nil {
		return models.OperationLogSummary{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var entry models.OperationLogEntry
		var operation string
		if err := rows.Scan(&entry.ID, &entry.MappingID, &operation, &entry.Status,
			&entry.Message, &entry.RecordsAffected, &entry.CreatedAt); err != nil {
			return models.OperationLogSummary{}, err
		}
		entry.Operation = models.Operation(operation)
		summary.RecentEntries = append(summary.RecentEntries, entry)
	}
	return summary, rows.Err()
}
