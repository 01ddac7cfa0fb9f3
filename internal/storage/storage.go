// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"statusrelay/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a uniqueness constraint is violated.
var ErrDuplicate = errors.New("already exists")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, id int64) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context, kind model.FeedKind) ([]model.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *model.Subscription) error
	DeleteSubscription(ctx context.Context, id int64) error

	// ReplaceTracked atomically replaces a subscription's tracked-entity set.
	ReplaceTracked(ctx context.Context, subID int64, tracked []model.TrackedEntity) error

	// Checkpoint returns the stored cursor for the feed, or ErrNotFound
	// if the feed has never been bootstrapped.
	Checkpoint(ctx context.Context, feed model.FeedKind) (int64, error)
	// AdvanceCheckpoint raises the stored cursor to value if and only if
	// value is greater than what is stored (compare-and-set). It reports
	// whether the stored value changed. Creates the row if missing.
	AdvanceCheckpoint(ctx context.Context, feed model.FeedKind, value int64) (bool, error)
	// InitCheckpoint creates the cursor row during bootstrap. Racing an
	// existing row is treated as success.
	InitCheckpoint(ctx context.Context, feed model.FeedKind, value int64) error

	Close() error
}
