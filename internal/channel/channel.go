// Package channel defines the adapter contract for chat destinations.
package channel

import (
	"context"

	"github.com/tetherhq/tether/pkg/models"
)

// Destination identifies where a record is delivered. The connection id
// rides along so the rendered message can carry a resolve action that names
// the record's originating tracker.
type Destination struct {
	ChannelID    string
	ConnectionID string
}

// Adapter posts, edits, and deletes rendered record messages. How a Record
// becomes a platform-native message is the adapter's concern; callers only
// deal in Record and message id.
type Adapter interface {
	// Post delivers a new message for the record and returns its id.
	Post(ctx context.Context, dest Destination, record models.Record) (string, error)

	// Update rewrites an existing message in place. A message the platform
	// no longer knows surfaces as a NotFound error so callers can re-post.
	Update(ctx context.Context, dest Destination, messageID string, record models.Record) error

	// Delete removes a message. Deleting an already-gone message returns a
	// NotFound error.
	Delete(ctx context.Context, dest Destination, messageID string) error

	// TestConnection performs a cheap read-only probe of the credentials.
	TestConnection(ctx context.Context) bool
}
