// Package telegram implements the platform client on the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"statusrelay/internal/platform"
	"statusrelay/internal/render"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client is the Telegram-backed platform client.
type Client struct {
	api telegramAPI
}

var _ platform.Client = (*Client)(nil)

// New creates a Client with the given bot token.
func New(token string) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Client{api: api}, nil
}

// NewWithAPI creates a Client over an existing API, useful for testing.
func NewWithAPI(api telegramAPI) *Client {
	return &Client{api: api}
}

// Send posts a new message and returns its id.
func (c *Client) Send(ctx context.Context, channelID int64, payload render.Payload) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(channelID, payload.Text())
	msg.DisableWebPagePreview = true
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, classify(err)
	}
	return int64(sent.MessageID), nil
}

// Edit overwrites an existing message's content.
func (c *Client) Edit(ctx context.Context, channelID, messageID int64, payload render.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(channelID, int(messageID), payload.Text())
	edit.DisableWebPagePreview = true
	if _, err := c.api.Send(edit); err != nil {
		return classify(err)
	}
	return nil
}

// Crosspost forwards a sent message to a broadcast chat.
func (c *Client) Crosspost(ctx context.Context, fromChannelID, toChatID, messageID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fwd := tgbotapi.NewForward(toChatID, fromChannelID, int(messageID))
	if _, err := c.api.Send(fwd); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps Telegram API failures onto the platform error taxonomy.
func classify(err error) error {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return &platform.Error{Kind: platform.KindUnknown, Err: err}
	}
	switch {
	case tgErr.Code == 429:
		return &platform.Error{Kind: platform.KindRateLimited, Err: err}
	case tgErr.Code == 403:
		return &platform.Error{Kind: platform.KindForbidden, Err: err}
	case tgErr.Code == 400 && notFoundMessage(tgErr.Message):
		return &platform.Error{Kind: platform.KindNotFound, Err: err}
	default:
		return &platform.Error{Kind: platform.KindUnknown, Err: err}
	}
}

func notFoundMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "message to edit not found") ||
		strings.Contains(msg, "message not found") ||
		strings.Contains(msg, "chat not found")
}
