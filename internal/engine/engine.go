// Package engine implements the reconciliation core: given a fresh fetch
// from a tracker and the locally cached view of what has been delivered,
// compute and apply the minimal create/update/delete set against the chat
// channel, tolerating partial failure of any external call.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tetherhq/tether/internal/channel"
	"github.com/tetherhq/tether/internal/logging"
	"github.com/tetherhq/tether/internal/tracker"
	"github.com/tetherhq/tether/pkg/models"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultWorkers     = 4
)

// Store is the slice of the local store the engine needs.
type Store interface {
	UpsertCachedRecord(ctx context.Context, connectionID, channelID string, record models.Record) error
	CachedRecords(ctx context.Context, connectionID, channelID string) ([]models.Record, error)
	DeleteCachedRecord(ctx context.Context, connectionID, channelID, recordID string) error
	UpsertDeliveryLink(ctx context.Context, link models.DeliveryLink) error
	DeliveryLink(ctx context.Context, connectionID, channelID, recordID string) (models.DeliveryLink, bool, error)
	DeleteDeliveryLink(ctx context.Context, connectionID, channelID, recordID string) error
	SetLastSyncAt(ctx context.Context, mappingID string, at time.Time) error
	AppendLogEntry(ctx context.Context, entry models.OperationLogEntry) error
}

// Engine reconciles tracker state into channel messages. It holds no
// hidden global state; adapters and the store are injected at construction.
type Engine struct {
	mappings []models.Mapping
	trackers tracker.Factory
	channel  channel.Adapter
	store    Store

	callTimeout time.Duration
	workers     int

	// mappingLocks serializes concurrent triggers on the same mapping so
	// racing runs cannot interleave writes for one record. Distinct
	// mappings proceed independently.
	mu           sync.Mutex
	mappingLocks map[string]*sync.Mutex
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithCallTimeout bounds each external adapter call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithWorkers bounds per-record concurrency within one mapping's phases.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// New constructs an engine over the configured mappings.
func New(mappings []models.Mapping, trackers tracker.Factory, ch channel.Adapter, store Store, opts ...Option) *Engine {
	e := &Engine{
		mappings:     mappings,
		trackers:     trackers,
		channel:      ch,
		store:        store,
		callTimeout:  defaultCallTimeout,
		workers:      defaultWorkers,
		mappingLocks: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	return e
}

// RunFull reconciles every active mapping sequentially. Errors in one
// mapping never block the others; the aggregated result reports all of
// them. Sequential mapping processing bounds concurrent load on the
// external APIs.
func (e *Engine) RunFull(ctx context.Context) models.SyncResult {
	result := models.SyncResult{Success: true}
	ran := 0
	for _, m := range e.mappings {
		if !m.Active {
			continue
		}
		ran++
		result.Merge(e.runMapping(ctx, m))
	}

	status := models.LogStatusSuccess
	if !result.Success {
		status = models.LogStatusError
	}
	e.appendLog(ctx, models.OperationLogEntry{
		Operation:       models.OperationSync,
		Status:          status,
		Message:         fmt.Sprintf("full sync: %d mappings, %d records processed", ran, result.IssuesProcessed),
		RecordsAffected: result.IssuesProcessed,
	}, &result)
	return result
}

// RunMapping reconciles a single mapping by id.
func (e *Engine) RunMapping(ctx context.Context, mappingID string) models.SyncResult {
	for _, m := range e.mappings {
		if m.ID != mappingID {
			continue
		}
		if !m.Active {
			return models.SyncResult{
				Errors: []string{fmt.Sprintf("mapping %s is not active", mappingID)},
			}
		}
		return e.runMapping(ctx, m)
	}
	return models.SyncResult{
		Errors: []string{fmt.Sprintf("unknown mapping: %s", mappingID)},
	}
}

// runMapping executes one fetch→filter→diff→apply→finalize pass.
func (e *Engine) runMapping(ctx context.Context, m models.Mapping) models.SyncResult {
	lock := e.mappingLock(m.ID)
	lock.Lock()
	defer lock.Unlock()

	result := models.SyncResult{Success: true}

	adapter, err := e.trackers.Adapter(m.ConnectionID)
	if err != nil {
		return e.fetchFailed(ctx, m, err)
	}

	// Fetch. A failure here aborts this mapping only.
	fetchCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	fetched, err := adapter.FetchOpenRecords(fetchCtx)
	cancel()
	if err != nil {
		return e.fetchFailed(ctx, m, err)
	}

	current := filterRecords(m, fetched)

	cached, err := e.store.CachedRecords(ctx, m.ConnectionID, m.ChannelID)
	if err != nil {
		return e.fetchFailed(ctx, m, fmt.Errorf("failed to read cache: %w", err))
	}

	p := diff(current, cached)
	logging.Info("reconciling mapping",
		"mapping", m.ID,
		"fetched", len(fetched),
		"current", len(current),
		"create", len(p.toCreate),
		"update", len(p.toUpdate),
		"remove", len(p.toRemove))

	dest := channel.Destination{ChannelID: m.ChannelID, ConnectionID: m.ConnectionID}
	collector := newCollector()

	e.forEachRecord(ctx, p.toCreate, func(ctx context.Context, record models.Record) {
		if err := e.createRecord(ctx, m, dest, record); err != nil {
			collector.addError(fmt.Sprintf("create %s: %v", record.ID, err))
			return
		}
		collector.addProcessed()
	})

	e.forEachRecord(ctx, p.toUpdate, func(ctx context.Context, record models.Record) {
		if err := e.updateRecord(ctx, m, dest, record); err != nil {
			collector.addError(fmt.Sprintf("update %s: %v", record.ID, err))
			return
		}
		collector.addProcessed()
	})

	e.forEachRecord(ctx, p.toRemove, func(ctx context.Context, record models.Record) {
		warning, err := e.removeRecord(ctx, m, dest, record)
		if warning != "" {
			collector.addWarning(warning)
		}
		if err != nil {
			collector.addError(fmt.Sprintf("remove %s: %v", record.ID, err))
			return
		}
		collector.addProcessed()
	})

	collector.drainInto(&result)

	// Finalize: sync state and the summary log entry. Neither failure
	// undoes the applied operations.
	if err := e.store.SetLastSyncAt(ctx, m.ID, time.Now().UTC()); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("mapping %s: failed to record sync time: %v", m.ID, err))
	}

	status := models.LogStatusSuccess
	if !result.Success {
		status = models.LogStatusError
	}
	e.appendLog(ctx, models.OperationLogEntry{
		MappingID:       m.ID,
		Operation:       models.OperationSync,
		Status:          status,
		Message:         summaryMessage(result),
		RecordsAffected: result.IssuesProcessed,
	}, &result)

	return result
}

// createRecord posts a new message, then persists the link and cached
// record. The link write follows the post, so a crash in between leaves a
// message with no link; the next pass re-creates and the duplicate is the
// documented at-least-once cost.
func (e *Engine) createRecord(ctx context.Context, m models.Mapping, dest channel.Destination, record models.Record) error {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	messageID, err := e.channel.Post(callCtx, dest, record)
	cancel()
	if err != nil {
		return err
	}

	if err := e.store.UpsertDeliveryLink(ctx, models.DeliveryLink{
		ConnectionID: m.ConnectionID,
		ChannelID:    m.ChannelID,
		RecordID:     record.ID,
		MessageID:    messageID,
	}); err != nil {
		// The message exists but the link does not; surfaced loudly so
		// the duplicate window is visible, never hidden.
		return fmt.Errorf("message %s posted but link not persisted: %w", messageID, err)
	}
	if err := e.store.UpsertCachedRecord(ctx, m.ConnectionID, m.ChannelID, record); err != nil {
		return fmt.Errorf("failed to cache record: %w", err)
	}
	return nil
}

// updateRecord edits the record's existing message. A missing link demotes
// the update to a create; a NotFound from the channel means the message
// vanished out-of-band and is re-posted with the link overwritten.
func (e *Engine) updateRecord(ctx context.Context, m models.Mapping, dest channel.Destination, record models.Record) error {
	link, ok, err := e.store.DeliveryLink(ctx, m.ConnectionID, m.ChannelID, record.ID)
	if err != nil {
		return fmt.Errorf("failed to look up delivery link: %w", err)
	}
	if !ok {
		// Cached before delivery tracking existed, or a prior create
		// failed to persist its link.
		return e.createRecord(ctx, m, dest, record)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	err = e.channel.Update(callCtx, dest, link.MessageID, record)
	cancel()
	if models.IsNotFound(err) {
		logging.Warn("message vanished out-of-band, re-posting",
			"mapping", m.ID, "record", record.ID, "message", link.MessageID)
		return e.createRecord(ctx, m, dest, record)
	}
	if err != nil {
		return err
	}

	if err := e.store.UpsertCachedRecord(ctx, m.ConnectionID, m.ChannelID, record); err != nil {
		return fmt.Errorf("failed to cache record: %w", err)
	}
	return nil
}

// removeRecord deletes the record's message best-effort, then drops the
// link and cached record. A failed message deletion is a warning, not an
// error; local cleanup still proceeds so the record cannot resurrect.
func (e *Engine) removeRecord(ctx context.Context, m models.Mapping, dest channel.Destination, record models.Record) (warning string, err error) {
	link, ok, lookupErr := e.store.DeliveryLink(ctx, m.ConnectionID, m.ChannelID, record.ID)
	if lookupErr != nil {
		return "", fmt.Errorf("failed to look up delivery link: %w", lookupErr)
	}
	if ok {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		deleteErr := e.channel.Delete(callCtx, dest, link.MessageID)
		cancel()
		if deleteErr != nil && !models.IsNotFound(deleteErr) {
			warning = fmt.Sprintf("remove %s: message %s not deleted: %v", record.ID, link.MessageID, deleteErr)
		}
	}

	if err := e.store.DeleteDeliveryLink(ctx, m.ConnectionID, m.ChannelID, record.ID); err != nil {
		return warning, fmt.Errorf("failed to delete delivery link: %w", err)
	}
	if err := e.store.DeleteCachedRecord(ctx, m.ConnectionID, m.ChannelID, record.ID); err != nil {
		return warning, fmt.Errorf("failed to delete cached record: %w", err)
	}
	return warning, nil
}

// fetchFailed logs the aborting failure for this mapping and builds its
// result. Other mappings continue independently.
func (e *Engine) fetchFailed(ctx context.Context, m models.Mapping, err error) models.SyncResult {
	logging.Error("fetch failed", "mapping", m.ID, "error", err)
	result := models.SyncResult{
		Errors: []string{fmt.Sprintf("mapping %s: %v", m.ID, err)},
	}
	e.appendLog(ctx, models.OperationLogEntry{
		MappingID: m.ID,
		Operation: models.OperationFetch,
		Status:    models.LogStatusError,
		Message:   err.Error(),
	}, &result)
	return result
}

// appendLog writes an operation-log entry. Observability failures are
// non-fatal: they are reported to the process log and as a run warning,
// never propagated into the primary operation's error path.
func (e *Engine) appendLog(ctx context.Context, entry models.OperationLogEntry, result *models.SyncResult) {
	if err := e.store.AppendLogEntry(ctx, entry); err != nil {
		logging.Error("failed to append operation log entry",
			"operation", string(entry.Operation), "mapping", entry.MappingID, "error", err)
		if result != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("operation log append failed: %v", err))
		}
	}
}

// forEachRecord runs fn over records under the bounded worker semaphore.
// Every record is attempted regardless of other records' outcomes.
func (e *Engine) forEachRecord(ctx context.Context, records []models.Record, fn func(context.Context, models.Record)) {
	if len(records) == 0 {
		return
	}
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for _, record := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(record models.Record) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, record)
		}(record)
	}
	wg.Wait()
}

func (e *Engine) mappingLock(mappingID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.mappingLocks[mappingID]
	if !ok {
		lock = &sync.Mutex{}
		e.mappingLocks[mappingID] = lock
	}
	return lock
}

func summaryMessage(result models.SyncResult) string {
	if len(result.Errors) == 0 {
		return fmt.Sprintf("processed %d records", result.IssuesProcessed)
	}
	return fmt.Sprintf("processed %d records, %d errors: %s",
		result.IssuesProcessed, len(result.Errors), strings.Join(result.Errors, "; "))
}

// collector gathers per-record outcomes from concurrent workers.
type collector struct {
	mu        sync.Mutex
	processed int
	errors    []string
	warnings  []string
}

func newCollector() *collector {
	return &collector{}
}

func (c *collector) addProcessed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed++
}

func (c *collector) addError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, msg)
}

func (c *collector) addWarning(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, msg)
}

func (c *collector) drainInto(result *models.SyncResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result.IssuesProcessed += c.processed
	result.Errors = append(result.Errors, c.errors...)
	result.Warnings = append(result.Warnings, c.warnings...)
	if len(c.errors) > 0 {
		result.Success = false
	}
}
