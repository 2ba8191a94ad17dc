// Package discord implements the channel adapter for Discord text
// channels via the REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/tetherhq/tether/internal/channel"
	"github.com/tetherhq/tether/internal/logging"
	"github.com/tetherhq/tether/pkg/models"
)

// session is the slice of discordgo.Session the adapter uses, extracted so
// tests can substitute a fake.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

// Client is the Discord channel adapter. One client serves every mapping;
// the destination carries the channel per call.
type Client struct {
	session session
}

// NewClient creates the adapter from a bot token. No gateway connection is
// opened; delivery only needs the REST API.
func NewClient(botToken string) (*Client, error) {
	s, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	logging.Debug("discord adapter configured", "token", logging.MaskSensitive(botToken))
	return &Client{session: s}, nil
}

// newClientWithSession is the test seam.
func newClientWithSession(s session) *Client {
	return &Client{session: s}
}

// Post renders the record and sends it to the destination channel.
func (c *Client) Post(ctx context.Context, dest channel.Destination, record models.Record) (string, error) {
	message, err := c.session.ChannelMessageSendComplex(dest.ChannelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{renderEmbed(record)},
		Components: renderComponents(dest.ConnectionID, record),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", typedError("discord: post message", err)
	}
	return message.ID, nil
}

// Update rewrites the message content in place. The message id is never
// changed by an edit.
func (c *Client) Update(ctx context.Context, dest channel.Destination, messageID string, record models.Record) error {
	embeds := []*discordgo.MessageEmbed{renderEmbed(record)}
	components := renderComponents(dest.ConnectionID, record)
	_, err := c.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    dest.ChannelID,
		ID:         messageID,
		Embeds:     &embeds,
		Components: &components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return typedError("discord: update message", err)
	}
	return nil
}

// Delete removes the message from the channel.
func (c *Client) Delete(ctx context.Context, dest channel.Destination, messageID string) error {
	if err := c.session.ChannelMessageDelete(dest.ChannelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return typedError("discord: delete message", err)
	}
	return nil
}

// TestConnection verifies the bot token with a read of the bot's own user.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := c.session.User("@me", discordgo.WithContext(ctx))
	return err == nil
}

// typedError maps Discord REST failures onto the error taxonomy. Unknown
// channel and unknown message mean the remote entity vanished and must
// surface as NotFound so the engine can self-heal.
func typedError(op string, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil {
			switch restErr.Message.Code {
			case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage:
				return models.NewNotFoundError(op, err)
			}
		}
		if restErr.Response != nil {
			switch {
			case restErr.Response.StatusCode == http.StatusNotFound:
				return models.NewNotFoundError(op, err)
			case restErr.Response.StatusCode == http.StatusUnauthorized || restErr.Response.StatusCode == http.StatusForbidden:
				return models.NewAuthError(op, err)
			case restErr.Response.StatusCode == http.StatusTooManyRequests || restErr.Response.StatusCode >= 500:
				return models.NewTransientError(op, err)
			}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return models.NewTransientError(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.NewTransientError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
