package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolveDSN(t *testing.T) {
	tests := []struct {
		name       string
		dsn        string
		wantDriver string
		wantSource string
		wantErr    bool
	}{
		{name: "bare path", dsn: "tether.db", wantDriver: "sqlite3", wantSource: "tether.db"},
		{name: "file scheme", dsn: "file:/var/lib/tether.db", wantDriver: "sqlite3", wantSource: "/var/lib/tether.db"},
		{name: "memory", dsn: "memory:", wantDriver: "sqlite3", wantSource: ":memory:"},
		{name: "postgres", dsn: "postgres://user:pw@localhost/tether", wantDriver: "postgres", wantSource: "postgres://user:pw@localhost/tether"},
		{name: "postgresql alias", dsn: "postgresql://localhost/tether", wantDriver: "postgres", wantSource: "postgresql://localhost/tether"},
		{name: "empty", dsn: "", wantErr: true},
		{name: "blank", dsn: "   ", wantErr: true},
		{name: "unknown scheme", dsn: "mysql://localhost/tether", wantErr: true},
		{name: "file without path", dsn: "file:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, source, err := resolveDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestRebind(t *testing.T) {
	sqlite := &Store{driver: driverSQLite}
	postgres := &Store{driver: driverPostgres}

	query := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, query, sqlite.rebind(query))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", postgres.rebind(query))
}

func TestOpenFileReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tether.db")

	s, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.UpsertDeliveryLink(ctx, models.DeliveryLink{
		ConnectionID: "conn1", ChannelID: "chan1", RecordID: "A1", MessageID: "msg-1",
	}))
	require.NoError(t, s.Close())

	// Schema application is idempotent and data survives a reopen.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	link, ok, err := s.DeliveryLink(ctx, "conn1", "chan1", "A1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "msg-1", link.MessageID)
}

func TestCachedRecordRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	record := models.Record{
		ID:          "A1",
		Status:      models.StatusOpen,
		Project:     "core",
		Title:       "broken pipeline",
		Description: "the nightly build fails",
		Severity:    "high",
		Attachments: []string{"https://example.com/log.txt", "https://example.com/trace.txt"},
		SourceURL:   "https://tracker.example.com/A1",
	}
	require.NoError(t, s.UpsertCachedRecord(ctx, "conn1", "chan1", record))

	records, err := s.CachedRecords(ctx, "conn1", "chan1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record, records[0])

	// Upsert overwrites in place.
	record.Title = "broken pipeline (flaky)"
	record.Severity = "low"
	require.NoError(t, s.UpsertCachedRecord(ctx, "conn1", "chan1", record))
	records, err = s.CachedRecords(ctx, "conn1", "chan1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record, records[0])
}

func TestCachedRecordsScopeAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, fixture := range []struct {
		connection, channel, id string
	}{
		{"conn1", "chan1", "B1"},
		{"conn1", "chan1", "A1"},
		{"conn1", "chan2", "C1"},
		{"conn2", "chan1", "D1"},
	} {
		require.NoError(t, s.UpsertCachedRecord(ctx, fixture.connection, fixture.channel,
			models.Record{ID: fixture.id, Status: models.StatusOpen}))
	}

	records, err := s.CachedRecords(ctx, "conn1", "chan1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Ordered by record id.
	assert.Equal(t, "A1", records[0].ID)
	assert.Equal(t, "B1", records[1].ID)

	require.NoError(t, s.DeleteCachedRecord(ctx, "conn1", "chan1", "A1"))
	records, err = s.CachedRecords(ctx, "conn1", "chan1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "B1", records[0].ID)
}

func TestDeliveryLinkLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.DeliveryLink(ctx, "conn1", "chan1", "A1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpsertDeliveryLink(ctx, models.DeliveryLink{
		ConnectionID: "conn1", ChannelID: "chan1", RecordID: "A1", MessageID: "msg-1",
	}))
	link, ok, err := s.DeliveryLink(ctx, "conn1", "chan1", "A1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "msg-1", link.MessageID)
	assert.False(t, link.CreatedAt.IsZero())

	// Self-healing overwrites the message id in place.
	require.NoError(t, s.UpsertDeliveryLink(ctx, models.DeliveryLink{
		ConnectionID: "conn1", ChannelID: "chan1", RecordID: "A1", MessageID: "msg-2",
	}))
	link, ok, err = s.DeliveryLink(ctx, "conn1", "chan1", "A1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "msg-2", link.MessageID)

	require.NoError(t, s.DeleteDeliveryLink(ctx, "conn1", "chan1", "A1"))
	_, ok, err = s.DeliveryLink(ctx, "conn1", "chan1", "A1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastSyncAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LastSyncAt(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok)

	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastSyncAt(ctx, "m1", first))
	at, ok, err := s.LastSyncAt(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(first))

	second := first.Add(5 * time.Minute)
	require.NoError(t, s.SetLastSyncAt(ctx, "m1", second))
	at, ok, err = s.LastSyncAt(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(second))
}

func TestOperationLogSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	entries := []models.OperationLogEntry{
		{MappingID: "m1", Operation: models.OperationSync, Status: models.LogStatusSuccess, Message: "processed 3 records", RecordsAffected: 3, CreatedAt: base},
		{MappingID: "m1", Operation: models.OperationFetch, Status: models.LogStatusError, Message: "rate limited", CreatedAt: base.Add(time.Minute)},
		{MappingID: "m2", Operation: models.OperationSync, Status: models.LogStatusSuccess, Message: "processed 1 records", RecordsAffected: 1, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, entry := range entries {
		require.NoError(t, s.AppendLogEntry(ctx, entry))
	}

	summary, err := s.LogSummary(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.ErrorCount)

	// Newest first, bounded by the limit.
	require.Len(t, summary.RecentEntries, 2)
	assert.Equal(t, "m2", summary.RecentEntries[0].MappingID)
	assert.Equal(t, models.OperationFetch, summary.RecentEntries[1].Operation)

	// The id and timestamp are filled in when absent.
	assert.NotEmpty(t, summary.RecentEntries[0].ID)
	assert.False(t, summary.RecentEntries[0].CreatedAt.IsZero())
}

func TestOperationLogSummaryZeroLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendLogEntry(ctx, models.OperationLogEntry{
		Operation: models.OperationSync, Status: models.LogStatusSuccess,
	}))

	summary, err := s.LogSummary(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Empty(t, summary.RecentEntries)
}
