// Package reconcile computes and runs the minimal set of message
// mutations needed to bring delivered notifications in line with the
// current external state.
package reconcile

import (
	"context"

	"statusrelay/internal/model"
)

// ActionKind classifies a message mutation.
type ActionKind int

// Action kinds.
const (
	// ActionCreate sends a new message for a newly observed entity.
	ActionCreate ActionKind = iota
	// ActionEdit overwrites the existing message with refreshed content.
	ActionEdit
	// ActionFinalize performs one last best-effort edit with terminal
	// content and removes the entity from tracking.
	ActionFinalize
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionEdit:
		return "edit"
	case ActionFinalize:
		return "finalize"
	}
	return "unknown"
}

// Action is one message mutation against one subscription.
type Action struct {
	Kind   ActionKind
	Entity model.Entity
	// Tracked is the bookkeeping row the action concerns. Nil for
	// ActionCreate on the comment feed, where nothing is tracked.
	Tracked *model.TrackedEntity
}

// Applier applies an action against the chat platform, mutating the
// subscription's in-memory bookkeeping. It reports whether the
// subscription's persistent state changed.
type Applier interface {
	Apply(ctx context.Context, sub *model.Subscription, action Action) (changed bool, err error)
}
