// Package platform abstracts the outbound chat platform behind a small
// interface with classified errors.
package platform

import (
	"context"
	"errors"
	"fmt"

	"statusrelay/internal/render"
)

// ErrorKind classifies a platform failure.
type ErrorKind int

// Error kinds.
const (
	KindUnknown ErrorKind = iota
	// KindNotFound covers deleted messages and missing channels. It is a
	// normal untracking trigger, never surfaced to users.
	KindNotFound
	KindRateLimited
	KindForbidden
)

// Error is a classified platform failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("platform: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a not-found platform error.
func IsNotFound(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindNotFound
}

// Client performs outbound chat operations.
type Client interface {
	// Send posts a new message and returns its id.
	Send(ctx context.Context, channelID int64, payload render.Payload) (int64, error)
	// Edit overwrites an existing message's content.
	Edit(ctx context.Context, channelID, messageID int64, payload render.Payload) error
	// Crosspost republishes a sent message to a broadcast chat.
	Crosspost(ctx context.Context, fromChannelID, toChatID, messageID int64) error
}
