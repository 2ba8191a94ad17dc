// Package models defines data structures shared across the application.
package models

import (
	"time"
)

// RecordStatus is the canonical lifecycle state of a tracker record.
type RecordStatus string

const (
	// StatusOpen marks a record that belongs in the delivered working set.
	StatusOpen RecordStatus = "open"

	// StatusResolved marks a record that has left the working set.
	StatusResolved RecordStatus = "resolved"
)

// ProjectAll is the sentinel project filter that matches every record.
const ProjectAll = "all"

// Record is the canonical, normalized view of one tracker issue. Adapters
// translate their platform's field encodings into this shape; nothing past
// the adapter boundary ever sees a raw tracker payload.
type Record struct {
	// ID is the tracker-stable identifier, unique within one connection.
	ID string

	// Status is the normalized lifecycle state.
	Status RecordStatus

	// Project groups records for mapping filters. May be empty.
	Project string

	// Title is the record's summary line.
	Title string

	// Description is the full body text.
	Description string

	// Severity is a free-form severity or priority label.
	Severity string

	// Attachments holds attachment URLs.
	Attachments []string

	// SourceURL links back to the record on the tracker.
	SourceURL string
}

// Mapping pairs one tracker connection with one chat destination.
type Mapping struct {
	// ID identifies the mapping in configuration, triggers, and the
	// operation log.
	ID string

	// ConnectionID names the tracker connection records are fetched from.
	ConnectionID string

	// ChannelID is the chat destination messages are delivered to.
	ChannelID string

	// ProjectFilter restricts the mapping to records of one project.
	// ProjectAll (or empty) delivers everything.
	ProjectFilter string

	// Active mappings participate in reconciliation; inactive ones are
	// retained in configuration but skipped.
	Active bool
}

// Matches reports whether a record passes the mapping's project filter.
func (m Mapping) Matches(r Record) bool {
	if m.ProjectFilter == "" || m.ProjectFilter == ProjectAll {
		return true
	}
	return r.Project == m.ProjectFilter
}

// DeliveryLink ties a delivered record to the message that carries it,
// scoped to the mapping's (connection, channel) pair. The message ID never
// changes for the life of the link except when self-healing replaces a
// message that vanished out-of-band.
type DeliveryLink struct {
	ConnectionID string
	ChannelID    string
	RecordID     string
	MessageID    string
	CreatedAt    time.Time
}

// Operation names the kind of work an operation-log entry describes.
type Operation string

const (
	OperationFetch       Operation = "fetch"
	OperationCreate      Operation = "create"
	OperationUpdate      Operation = "update"
	OperationDelete      Operation = "delete"
	OperationInteraction Operation = "interaction"

	// OperationSync marks the per-run summary entries.
	OperationSync Operation = "sync"
)

// OperationLogEntry is one append-only observability record. MappingID is
// empty for cross-mapping (full run) entries.
type OperationLogEntry struct {
	ID              string
	MappingID       string
	Operation       Operation
	Status          string
	Message         string
	RecordsAffected int
	CreatedAt       time.Time
}

// Operation log entry statuses.
const (
	LogStatusSuccess = "success"
	LogStatusError   = "error"
)

// SyncResult summarizes one reconciliation run, for one mapping or for all
// of them. The run always applies every planned operation; Success only
// reports whether any of them failed.
type SyncResult struct {
	// Success is false if any per-record or per-mapping error occurred.
	Success bool `json:"success"`

	// IssuesProcessed counts records handled without error.
	IssuesProcessed int `json:"issues_processed"`

	// Errors holds per-record and per-mapping failure messages.
	Errors []string `json:"errors,omitempty"`

	// Warnings holds non-fatal anomalies (best-effort deletions that
	// failed, log-append failures).
	Warnings []string `json:"warnings,omitempty"`
}

// Merge folds another result into this one, aggregating counts and
// messages across mappings.
func (r *SyncResult) Merge(other SyncResult) {
	if !other.Success {
		r.Success = false
	}
	r.IssuesProcessed += other.IssuesProcessed
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// OperationLogSummary is the read model the dashboard consumes.
type OperationLogSummary struct {
	Total         int                 `json:"total"`
	SuccessCount  int                 `json:"success_count"`
	ErrorCount    int                 `json:"error_count"`
	RecentEntries []OperationLogEntry `json:"recent_entries"`
}

// Actor identifies the chat-platform user behind an interaction callback.
type Actor struct {
	ID          string
	DisplayName string
}
