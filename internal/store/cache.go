package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/tetherhq/tether/pkg/models"
)

// UpsertCachedRecord stores the record under the mapping's scope,
// overwriting any previous snapshot.
func (s *Store) UpsertCachedRecord(ctx context.Context, connectionID, channelID string, record models.Record) error {
	attachments, err := json.Marshal(record.Attachments)
	if err != nil {
		return err
	}
	query := s.rebind(`
		INSERT INTO cached_records
			(connection_id, channel_id, record_id, status, project, title, description, severity, attachments, source_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (connection_id, channel_id, record_id) DO UPDATE SET
			status = excluded.status,
			project = excluded.project,
			title = excluded.title,
			description = excluded.description,
			severity = excluded.severity,
			attachments = excluded.attachments,
			source_url = excluded.source_url,
			updated_at = excluded.updated_at`)
	_, err = s.db.ExecContext(ctx, query,
		connectionID, channelID, record.ID, string(record.Status), record.Project,
		record.Title, record.Description, record.Severity, string(attachments),
		record.SourceURL, time.Now().UTC())
	return err
}

// CachedRecords returns every record cached under the mapping's scope.
func (s *Store) CachedRecords(ctx context.Context, connectionID, channelID string) ([]models.Record, error) {
	query := s.rebind(`
		SELECT record_id, status, project, title, description, severity, attachments, source_url
		FROM cached_records
		WHERE connection_id = ? AND channel_id = ?
		ORDER BY record_id`)
	rows, err := s.db.QueryContext(ctx, query, connectionID, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var record models.Record
		var status, attachments string
		if err := rows.Scan(&record.ID, &status, &record.Project, &record.Title,
			&record.Description, &record.Severity, &attachments, &record.SourceURL); err != nil {
			return nil, err
		}
		record.Status = models.RecordStatus(status)
		if attachments != "" {
			if err := json.Unmarshal([]byte(attachments), &record.Attachments); err != nil {
				return nil, err
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DeleteCachedRecord removes one record from the mapping's scope.
func (s *Store) DeleteCachedRecord(ctx context.Context, connectionID, channelID, recordID string) error {
	query := s.rebind(`
		DELETE FROM cached_records
		WHERE connection_id = ? AND channel_id = ? AND record_id = ?`)
	_, err := s.db.ExecContext(ctx, query, connectionID, channelID, recordID)
	return err
}

// UpsertDeliveryLink persists the record→message association. The overwrite
// path only runs during self-healing, when a replacement message takes over
// a vanished one's link.
func (s *Store) UpsertDeliveryLink(ctx context.Context, link models.DeliveryLink) error {
	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := s.rebind(`
		INSERT INTO delivery_links (connection_id, channel_id, record_id, message_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (connection_id, channel_id, record_id) DO UPDATE SET
			message_id = excluded.message_id,
			created_at = excluded.created_at`)
	_, err := s.db.ExecContext(ctx, query,
		link.ConnectionID, link.ChannelID, link.RecordID, link.MessageID, createdAt)
	return err
}

// DeliveryLink looks up the link for one record within the mapping's scope.
func (s *Store) DeliveryLink(ctx context.Context, connectionID, channelID, recordID string) (models.DeliveryLink, bool, error) {
	query := s.rebind(`
		SELECT message_id, created_at
		FROM delivery_links
		WHERE connection_id = ? AND channel_id = ? AND record_id = ?`)
	link := models.DeliveryLink{
		ConnectionID: connectionID,
		ChannelID:    channelID,
		RecordID:     recordID,
	}
	err := s.db.QueryRowContext(ctx, query, connectionID, channelID, recordID).
		Scan(&link.MessageID, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeliveryLink{}, false, nil
	}
	if err != nil {
		return models.DeliveryLink{}, false, err
	}
	return link, true, nil
}

// DeleteDeliveryLink removes the link for one record.
func (s *Store) DeleteDeliveryLink(ctx context.Context, connectionID, channelID, recordID string) error {
	query := s.rebind(`
		DELETE FROM delivery_links
		WHERE connection_id = ? AND channel_id = ? AND record_id = ?`)
	_, err := s.db.ExecContext(ctx, query, connectionID, channelID, recordID)
	return err
}

// SetLastSyncAt records the completion time of a mapping run.
func (s *Store) SetLastSyncAt(ctx context.Context, mappingID string, at time.Time) error {
	query := s.rebind(`
		INSERT INTO mapping_state (mapping_id, last_sync_at)
		VALUES (?, ?)
		ON CONFLICT (mapping_id) DO UPDATE SET last_sync_at = excluded.last_sync_at`)
	_, err := s.db.ExecContext(ctx, query, mappingID, at.UTC())
	return err
}

// LastSyncAt returns the completion time of the mapping's most recent run.
func (s *Store) LastSyncAt(ctx context.Context, mappingID string) (time.Time, bool, error) {
	query := s.rebind(`SELECT last_sync_at FROM mapping_state WHERE mapping_id = ?`)
	var at time.Time
	err := s.db.QueryRowContext(ctx, query, mappingID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}
