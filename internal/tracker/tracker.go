// Package tracker defines the adapter contract for issue-tracker
// connections and constructs adapters from configuration.
package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/tracker/github"
	"github.com/tetherhq/tether/internal/tracker/jira"
	"github.com/tetherhq/tether/internal/tracker/notion"
	"github.com/tetherhq/tether/pkg/models"
)

// Adapter is the contract every tracker integration satisfies. Fetch
// results are fully normalized Records; callers never see a platform's raw
// field encodings.
type Adapter interface {
	// FetchOpenRecords returns the tracker's current open working set.
	FetchOpenRecords(ctx context.Context) ([]models.Record, error)

	// UpdateStatus sets a record's status. Idempotent: applying a status
	// the record already has produces no additional side effect.
	UpdateStatus(ctx context.Context, recordID string, status models.RecordStatus) error

	// TestConnection performs a cheap read-only probe of the credentials.
	TestConnection(ctx context.Context) bool
}

// Factory resolves connection ids to adapters.
type Factory interface {
	Adapter(connectionID string) (Adapter, error)
}

// ConfigFactory builds adapters from the loaded configuration, one per
// connection, constructed lazily and reused.
type ConfigFactory struct {
	cfg *config.Config

	mu       sync.Mutex
	adapters map[string]Adapter
}

// NewFactory creates a factory over the given configuration.
func NewFactory(cfg *config.Config) *ConfigFactory {
	return &ConfigFactory{
		cfg:      cfg,
		adapters: map[string]Adapter{},
	}
}

// Adapter returns the adapter for a connection id, constructing it on first
// use.
func (f *ConfigFactory) Adapter(connectionID string) (Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if adapter, ok := f.adapters[connectionID]; ok {
		return adapter, nil
	}

	conn, ok := f.cfg.Connection(connectionID)
	if !ok {
		return nil, fmt.Errorf("unknown tracker connection: %s", connectionID)
	}
	if err := config.ValidateConnection(conn); err != nil {
		return nil, err
	}

	var (
		adapter Adapter
		err     error
	)
	switch conn.Type {
	case config.ConnectionTypeNotion:
		adapter = notion.NewClient(conn.Notion)
	case config.ConnectionTypeJira:
		adapter, err = jira.NewClient(conn.Jira)
	case config.ConnectionTypeGitHub:
		adapter, err = github.NewClient(conn.GitHub)
	default:
		err = fmt.Errorf("unknown tracker connection type: %s", conn.Type)
	}
	if err != nil {
		return nil, err
	}

	f.adapters[connectionID] = adapter
	return adapter, nil
}
