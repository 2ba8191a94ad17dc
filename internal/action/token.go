// Package action encodes and decodes the opaque tokens carried by message
// components. A token names the action, the tracker connection, and the
// record, so an interaction callback can be routed without any channel-side
// state.
package action

import (
	"fmt"
	"strings"

	"github.com/tetherhq/tether/pkg/models"
)

// Resolve is the only supported action.
const Resolve = "resolve"

const tokenVersion = "v1"

// Token is a parsed component token.
type Token struct {
	Action       string
	ConnectionID string
	RecordID     string
}

// ResolveToken builds the component token for resolving a record. Discord
// caps component custom ids at 100 bytes; the compact colon form leaves
// ample room for a 36-byte page id.
func ResolveToken(connectionID, recordID string) string {
	return strings.Join([]string{tokenVersion, Resolve, connectionID, recordID}, ":")
}

// ParseToken decodes a component token. Malformed input yields a
// validation error, never a panic.
func ParseToken(raw string) (Token, error) {
	parts := strings.SplitN(raw, ":", 4)
	if len(parts) != 4 {
		return Token{}, models.NewValidationError("action: parse token",
			fmt.Errorf("malformed token %q", raw))
	}
	if parts[0] != tokenVersion {
		return Token{}, models.NewValidationError("action: parse token",
			fmt.Errorf("unsupported token version %q", parts[0]))
	}
	if parts[1] != Resolve {
		return Token{}, models.NewValidationError("action: parse token",
			fmt.Errorf("unsupported action %q", parts[1]))
	}
	if parts[2] == "" || parts[3] == "" {
		return Token{}, models.NewValidationError("action: parse token",
			fmt.Errorf("token %q is missing connection or record id", raw))
	}
	return Token{
		Action:       parts[1],
		ConnectionID: parts[2],
		RecordID:     parts[3],
	}, nil
}
