// Package webhook serves the inbound HTTP surface: the chat platform's
// interaction callbacks, the sync trigger, and the operation-log read
// model.
package webhook

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tetherhq/tether/internal/action"
	"github.com/tetherhq/tether/internal/logging"
	"github.com/tetherhq/tether/internal/tracker"
	"github.com/tetherhq/tether/pkg/models"
)

const interactionTimeout = 10 * time.Second

// OperationLog is the slice of the store the handler appends outcomes to.
type OperationLog interface {
	AppendLogEntry(ctx context.Context, entry models.OperationLogEntry) error
}

// InteractionHandler processes signed interaction callbacks. It mutates
// the tracker and answers synchronously; it never touches channel messages
// itself. Message lifecycle stays engine-owned, so the next reconciliation
// pass converges the channel after a resolve.
type InteractionHandler struct {
	trackers  tracker.Factory
	oplog     OperationLog
	publicKey ed25519.PublicKey
}

// NewInteractionHandler builds the handler from the hex-encoded public key
// the chat platform signs requests with.
func NewInteractionHandler(publicKeyHex string, trackers tracker.Factory, oplog OperationLog) (*InteractionHandler, error) {
	key, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid interaction public key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid interaction public key: got %d bytes, want %d", len(key), ed25519.PublicKeySize)
	}
	return &InteractionHandler{
		trackers:  trackers,
		oplog:     oplog,
		publicKey: ed25519.PublicKey(key),
	}, nil
}

// ServeHTTP verifies the request signature before any parsing, then
// dispatches on interaction type.
func (h *InteractionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !discordgo.VerifyInteraction(r, h.publicKey) {
		logging.Warn("interaction signature verification failed", "remote", r.RemoteAddr)
		http.Error(w, "invalid request signature", http.StatusUnauthorized)
		return
	}

	var interaction discordgo.Interaction
	if err := json.NewDecoder(r.Body).Decode(&interaction); err != nil {
		http.Error(w, "malformed interaction payload", http.StatusBadRequest)
		return
	}

	switch interaction.Type {
	case discordgo.InteractionPing:
		respond(w, discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
	case discordgo.InteractionMessageComponent:
		h.handleComponent(r.Context(), w, &interaction)
	default:
		// Unknown interaction kinds are acknowledged ephemerally rather
		// than erroring; the platform retries hard failures.
		respondEphemeral(w, "Unsupported interaction.")
	}
}

// handleComponent processes a component press carrying an action token.
func (h *InteractionHandler) handleComponent(ctx context.Context, w http.ResponseWriter, interaction *discordgo.Interaction) {
	actor := interactionActor(interaction)
	data := interaction.MessageComponentData()

	token, err := action.ParseToken(data.CustomID)
	if err != nil {
		logging.Warn("malformed interaction token", "custom_id", data.CustomID, "actor", actor.ID)
		h.logOutcome(ctx, models.LogStatusError, fmt.Sprintf("malformed token %q from %s", data.CustomID, actor.DisplayName), 0)
		respondEphemeral(w, "This action is no longer valid.")
		return
	}

	adapter, err := h.trackers.Adapter(token.ConnectionID)
	if err != nil {
		h.logOutcome(ctx, models.LogStatusError, fmt.Sprintf("resolve %s: %v", token.RecordID, err), 0)
		respondEphemeral(w, "Could not reach the tracker for this record.")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, interactionTimeout)
	err = adapter.UpdateStatus(callCtx, token.RecordID, models.StatusResolved)
	cancel()
	if err != nil {
		logging.Error("failed to resolve record",
			"connection", token.ConnectionID, "record", token.RecordID, "error", err)
		h.logOutcome(ctx, models.LogStatusError, fmt.Sprintf("resolve %s: %v", token.RecordID, err), 0)
		respondEphemeral(w, "Failed to resolve the record. Try again later.")
		return
	}

	logging.Info("record resolved via interaction",
		"connection", token.ConnectionID, "record", token.RecordID,
		"actor", actor.ID, "actor_name", actor.DisplayName)
	h.logOutcome(ctx, models.LogStatusSuccess,
		fmt.Sprintf("record %s resolved by %s", token.RecordID, actor.DisplayName), 1)

	// The message itself is left alone; the next reconciliation pass
	// removes it once the record has left the open set.
	respondEphemeral(w, "Record marked as resolved. The message will clear on the next sync.")
}

// logOutcome appends an interaction entry; append failures go to the
// process log only.
func (h *InteractionHandler) logOutcome(ctx context.Context, status, message string, affected int) {
	err := h.oplog.AppendLogEntry(ctx, models.OperationLogEntry{
		Operation:       models.OperationInteraction,
		Status:          status,
		Message:         message,
		RecordsAffected: affected,
	})
	if err != nil {
		logging.Error("failed to append interaction log entry", "error", err)
	}
}

// interactionActor extracts the invoking user from either a guild or a DM
// interaction.
func interactionActor(interaction *discordgo.Interaction) models.Actor {
	var user *discordgo.User
	if interaction.Member != nil {
		user = interaction.Member.User
	} else {
		user = interaction.User
	}
	if user == nil {
		return models.Actor{DisplayName: "unknown"}
	}
	return models.Actor{ID: user.ID, DisplayName: user.Username}
}

// respondEphemeral answers with a short-lived message visible only to the
// invoking actor.
func respondEphemeral(w http.ResponseWriter, content string) {
	respond(w, discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func respond(w http.ResponseWriter, response discordgo.InteractionResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logging.Error("failed to write interaction response", "error", err)
	}
}
