// Package dispatch applies reconciliation actions against the chat
// platform and keeps subscription bookkeeping in step.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"statusrelay/internal/model"
	"statusrelay/internal/platform"
	"statusrelay/internal/reconcile"
	"statusrelay/internal/render"
)

// Mentioner resolves the role mention for an entity, or "" for none.
type Mentioner interface {
	Mention(guildID string, kind model.FeedKind, category string) string
}

// Dispatcher applies actions. It mutates the subscription's in-memory
// tracked state; persisting that state is the caller's job, once per
// pass. Outbound sends and edits always happen before any persistence,
// so a crash in between costs at most one duplicate render.
type Dispatcher struct {
	platform platform.Client
	mention  Mentioner
	log      *slog.Logger
	now      func() time.Time
}

var _ reconcile.Applier = (*Dispatcher)(nil)

// New creates a Dispatcher. mention may be nil to disable mentions.
func New(p platform.Client, mention Mentioner, log *slog.Logger) *Dispatcher {
	return &Dispatcher{platform: p, mention: mention, log: log, now: time.Now}
}

// Apply performs one action against one subscription.
func (d *Dispatcher) Apply(ctx context.Context, sub *model.Subscription, action reconcile.Action) (bool, error) {
	switch action.Kind {
	case reconcile.ActionCreate:
		return d.create(ctx, sub, action.Entity)
	case reconcile.ActionEdit:
		return d.edit(ctx, sub, action)
	case reconcile.ActionFinalize:
		return d.finalize(ctx, sub, action)
	}
	return false, fmt.Errorf("unknown action kind %d", action.Kind)
}

func (d *Dispatcher) create(ctx context.Context, sub *model.Subscription, e model.Entity) (bool, error) {
	payload := d.render(sub, e, false)

	msgID, err := d.platform.Send(ctx, sub.ChannelID, payload)
	if err != nil {
		if sub.Kind == model.FeedStatus {
			// Track with an unknown message id so the incident is not
			// re-announced every pass; edits are skipped until resolved.
			d.track(sub, e, 0)
			return true, fmt.Errorf("send: %w", err)
		}
		return false, fmt.Errorf("send: %w", err)
	}

	if sub.AutoCrosspost && sub.CrosspostChatID != nil {
		if err := d.platform.Crosspost(ctx, sub.ChannelID, *sub.CrosspostChatID, msgID); err != nil {
			d.log.Warn("crosspost failed", "subscription_id", sub.ID, "message_id", msgID, "error", err)
		}
	}

	if sub.Kind == model.FeedStatus {
		d.track(sub, e, msgID)
		return true, nil
	}
	return false, nil
}

func (d *Dispatcher) edit(ctx context.Context, sub *model.Subscription, action reconcile.Action) (bool, error) {
	e := action.Entity
	payload := d.render(sub, e, false)

	err := d.platform.Edit(ctx, sub.ChannelID, action.Tracked.MessageID, payload)
	if platform.IsNotFound(err) {
		// The message was deleted out from under us; stop tracking.
		d.untrack(sub, action.Tracked.EntityID)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("edit: %w", err)
	}

	if i := indexOf(sub.Tracked, action.Tracked.EntityID); i >= 0 {
		if latest := e.LatestUpdate(); latest != nil {
			sub.Tracked[i].LastUpdateID = latest.ID
		}
		sub.Tracked[i].UpdatedAt = d.now().UTC()
	}
	return true, nil
}

func (d *Dispatcher) finalize(ctx context.Context, sub *model.Subscription, action reconcile.Action) (bool, error) {
	// Best-effort terminal render; untracking happens regardless.
	if action.Tracked.MessageID != 0 && action.Entity.ID != "" {
		payload := d.render(sub, action.Entity, true)
		if err := d.platform.Edit(ctx, sub.ChannelID, action.Tracked.MessageID, payload); err != nil {
			d.log.Warn("terminal edit failed",
				"subscription_id", sub.ID,
				"entity_id", action.Tracked.EntityID,
				"error", err)
		}
	}
	d.untrack(sub, action.Tracked.EntityID)
	return true, nil
}

func (d *Dispatcher) render(sub *model.Subscription, e model.Entity, final bool) render.Payload {
	mention := ""
	if d.mention != nil {
		mention = d.mention.Mention(sub.GuildID, sub.Kind, e.Impact)
	}
	if sub.Kind == model.FeedComments {
		return render.Comment(e, mention)
	}
	return render.Incident(e, mention, final)
}

// track appends a tracked entity, replacing any existing row for the
// same external id so a subscription never tracks an id twice.
func (d *Dispatcher) track(sub *model.Subscription, e model.Entity, msgID int64) {
	t := model.TrackedEntity{
		EntityID:  e.ID,
		MessageID: msgID,
		UpdatedAt: d.now().UTC(),
	}
	if latest := e.LatestUpdate(); latest != nil {
		t.LastUpdateID = latest.ID
	}
	if i := indexOf(sub.Tracked, e.ID); i >= 0 {
		sub.Tracked[i] = t
		return
	}
	sub.Tracked = append(sub.Tracked, t)
}

func (d *Dispatcher) untrack(sub *model.Subscription, entityID string) {
	if i := indexOf(sub.Tracked, entityID); i >= 0 {
		sub.Tracked = append(sub.Tracked[:i], sub.Tracked[i+1:]...)
	}
}

func indexOf(tracked []model.TrackedEntity, entityID string) int {
	for i, t := range tracked {
		if t.EntityID == entityID {
			return i
		}
	}
	return -1
}
