package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"statusrelay/internal/model"
	"statusrelay/internal/storage"
)

// CommentSource provides comment-feed discovery.
type CommentSource interface {
	// Discover unions both discovery strategies and returns deduplicated
	// candidates in ascending id order.
	Discover(ctx context.Context, recentCommits int, sinceID int64) ([]model.Entity, error)
}

// CommentReconciler runs comment-feed reconciliation passes.
type CommentReconciler struct {
	source  CommentSource
	store   storage.Storage
	applier Applier
	log     *slog.Logger

	// recentCommits bounds the commit-walk discovery strategy.
	recentCommits int
}

// NewCommentReconciler wires a comment-feed reconciler.
func NewCommentReconciler(source CommentSource, store storage.Storage, applier Applier, log *slog.Logger) *CommentReconciler {
	return &CommentReconciler{
		source:        source,
		store:         store,
		applier:       applier,
		log:           log,
		recentCommits: 10,
	}
}

// Run executes one discovery and delivery pass. It returns the number of
// entities newly processed past the global checkpoint.
func (r *CommentReconciler) Run(ctx context.Context) (int, error) {
	checkpoint, err := r.store.Checkpoint(ctx, model.FeedComments)
	if err == storage.ErrNotFound {
		return 0, r.bootstrap(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}

	entities, err := r.source.Discover(ctx, r.recentCommits, checkpoint)
	if err != nil {
		return 0, fmt.Errorf("discover comments: %w", err)
	}

	subs, err := r.store.ListSubscriptions(ctx, model.FeedComments)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	processed := 0
	for _, entity := range entities {
		if entity.NumericID <= checkpoint {
			continue
		}
		r.deliver(ctx, subs, entity)
		// The checkpoint advances only after the entity is fully
		// processed across all subscriptions, so a crash mid-batch
		// resumes from the last completed entity.
		if _, err := r.store.AdvanceCheckpoint(ctx, model.FeedComments, entity.NumericID); err != nil {
			r.log.Error("advance checkpoint", "entity_id", entity.ID, "error", err)
		}
		processed++
	}
	return processed, nil
}

// ProcessOne delivers a single push-received comment and advances the
// checkpoint. Used by the webhook path.
func (r *CommentReconciler) ProcessOne(ctx context.Context, entity model.Entity) error {
	if _, err := r.store.Checkpoint(ctx, model.FeedComments); err == storage.ErrNotFound {
		// Never bootstrapped: seed from this entity rather than flooding
		// subscriptions on the next poll.
		if err := r.store.InitCheckpoint(ctx, model.FeedComments, entity.NumericID); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	subs, err := r.store.ListSubscriptions(ctx, model.FeedComments)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	r.deliver(ctx, subs, entity)
	if _, err := r.store.AdvanceCheckpoint(ctx, model.FeedComments, entity.NumericID); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

// deliver sends one entity to every subscription whose own cursor is
// strictly behind it. Failures are isolated per subscription.
func (r *CommentReconciler) deliver(ctx context.Context, subs []model.Subscription, entity model.Entity) {
	for i := range subs {
		sub := &subs[i]
		if entity.NumericID <= sub.LastCommentID {
			continue
		}
		if _, err := r.applier.Apply(ctx, sub, Action{Kind: ActionCreate, Entity: entity}); err != nil {
			r.log.Error("deliver comment", "subscription_id", sub.ID, "entity_id", entity.ID, "error", err)
			continue
		}
		sub.LastCommentID = entity.NumericID
		if err := r.store.UpdateSubscription(ctx, sub); err != nil {
			r.log.Error("persist subscription cursor", "subscription_id", sub.ID, "error", err)
		}
	}
}

// bootstrap runs when no checkpoint exists yet. Nothing is delivered;
// instead a conservative starting cursor is computed from a bounded
// historical scan so the first real pass starts from "now".
func (r *CommentReconciler) bootstrap(ctx context.Context) error {
	entities, err := r.source.Discover(ctx, r.recentCommits, 0)
	if err != nil {
		return fmt.Errorf("bootstrap scan: %w", err)
	}
	var maxID int64
	for _, e := range entities {
		if e.NumericID > maxID {
			maxID = e.NumericID
		}
	}
	// A duplicate-key race with another writer counts as success inside
	// InitCheckpoint.
	if err := r.store.InitCheckpoint(ctx, model.FeedComments, maxID); err != nil {
		return fmt.Errorf("init checkpoint: %w", err)
	}
	r.log.Info("comment checkpoint bootstrapped", "value", maxID)
	return nil
}
