package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"statusrelay/internal/model"
	"statusrelay/internal/storage"
)

// StatusSource provides incident-feed truth.
type StatusSource interface {
	Active(ctx context.Context) ([]model.Entity, error)
	ActiveFromRSS(ctx context.Context) ([]model.Entity, error)
	Incident(ctx context.Context, id string) (*model.Entity, error)
	History(ctx context.Context, maxPages int) ([]model.Entity, error)
}

// historyPages bounds the history scan used as the secondary
// terminal-state lookup.
const historyPages = 2

// PlanIncidents compares the current active set against the tracked set
// and returns the minimal actions, ordered New, Updated, Resolved so a
// brand-new entity is never mistaken for missing within one pass.
// Re-running against an unchanged snapshot yields zero actions.
func PlanIncidents(active []model.Entity, tracked []model.TrackedEntity) []Action {
	activeByID := make(map[string]model.Entity, len(active))
	for _, e := range active {
		activeByID[e.ID] = e
	}
	trackedByID := make(map[string]model.TrackedEntity, len(tracked))
	for _, t := range tracked {
		trackedByID[t.EntityID] = t
	}

	var actions []Action

	for _, e := range active {
		if _, ok := trackedByID[e.ID]; !ok {
			actions = append(actions, Action{Kind: ActionCreate, Entity: e})
		}
	}

	for _, t := range tracked {
		e, ok := activeByID[t.EntityID]
		if !ok {
			continue
		}
		if t.MessageID == 0 {
			continue
		}
		latest := e.LatestUpdate()
		if latest != nil && latest.ID != t.LastUpdateID {
			tt := t
			actions = append(actions, Action{Kind: ActionEdit, Entity: e, Tracked: &tt})
		}
	}

	for _, t := range tracked {
		if _, ok := activeByID[t.EntityID]; !ok {
			tt := t
			actions = append(actions, Action{Kind: ActionFinalize, Tracked: &tt})
		}
	}

	return actions
}

// StatusReconciler runs incident-feed reconciliation passes.
type StatusReconciler struct {
	source  StatusSource
	store   storage.Storage
	applier Applier
	log     *slog.Logger
}

// NewStatusReconciler wires an incident-feed reconciler.
func NewStatusReconciler(source StatusSource, store storage.Storage, applier Applier, log *slog.Logger) *StatusReconciler {
	return &StatusReconciler{source: source, store: store, applier: applier, log: log}
}

// Run executes one reconciliation pass against a fresh active-set
// snapshot and returns the number of actions applied.
func (r *StatusReconciler) Run(ctx context.Context) (int, error) {
	active, err := r.source.Active(ctx)
	if err != nil {
		r.log.Warn("active fetch failed, falling back to rss discovery", "error", err)
		active, err = r.source.ActiveFromRSS(ctx)
		if err != nil {
			return 0, fmt.Errorf("fetch active set: %w", err)
		}
		active = onlyLive(active)
	}
	return r.RunWith(ctx, active)
}

// RunWith executes one reconciliation pass against the given active-set
// snapshot. Used directly by the push path, which already holds fresh data.
func (r *StatusReconciler) RunWith(ctx context.Context, active []model.Entity) (int, error) {
	subs, err := r.store.ListSubscriptions(ctx, model.FeedStatus)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	applied := 0
	for i := range subs {
		applied += r.runSubscription(ctx, &subs[i], active)
	}
	return applied, nil
}

// runSubscription applies one subscription's plan. Failures are isolated
// per action; the rest of the plan continues.
func (r *StatusReconciler) runSubscription(ctx context.Context, sub *model.Subscription, active []model.Entity) int {
	applied := 0
	changed := false

	for _, action := range PlanIncidents(active, sub.Tracked) {
		if action.Kind == ActionFinalize {
			r.refreshTerminal(ctx, &action)
		}
		didChange, err := r.applier.Apply(ctx, sub, action)
		changed = changed || didChange
		if err != nil {
			r.log.Error("apply action",
				"action", action.Kind.String(),
				"subscription_id", sub.ID,
				"entity_id", actionEntityID(action),
				"error", err)
			continue
		}
		applied++
	}

	if changed {
		if err := r.store.ReplaceTracked(ctx, sub.ID, sub.Tracked); err != nil {
			// The message is already out; next pass re-plans and the
			// idempotence rules bound the damage to one duplicate render.
			r.log.Error("persist tracked state", "subscription_id", sub.ID, "error", err)
		}
	}
	return applied
}

// refreshTerminal fetches the entity's terminal state for the final
// render. Scheduled maintenances have no single-incident endpoint, so a
// failed fetch falls back to a bounded history scan. Best-effort: if
// both miss, the finalize proceeds with whatever state the action
// already carries.
func (r *StatusReconciler) refreshTerminal(ctx context.Context, action *Action) {
	id := action.Tracked.EntityID
	e, err := r.source.Incident(ctx, id)
	if err != nil {
		r.log.Warn("terminal state fetch failed, scanning history", "entity_id", id, "error", err)
		e = r.findInHistory(ctx, id)
		if e == nil {
			return
		}
	}
	action.Entity = *e
}

func (r *StatusReconciler) findInHistory(ctx context.Context, id string) *model.Entity {
	entities, err := r.source.History(ctx, historyPages)
	if err != nil {
		r.log.Warn("history scan failed", "entity_id", id, "error", err)
		return nil
	}
	for i := range entities {
		if entities[i].ID == id {
			return &entities[i]
		}
	}
	return nil
}

// onlyLive strips entities already in a terminal status. The RSS history
// feed lists resolved incidents too; tracked entities absent from the
// live set get finalized by the normal plan.
func onlyLive(entities []model.Entity) []model.Entity {
	var live []model.Entity
	for _, e := range entities {
		if !e.Status.Terminal() {
			live = append(live, e)
		}
	}
	return live
}

func actionEntityID(action Action) string {
	if action.Tracked != nil {
		return action.Tracked.EntityID
	}
	return action.Entity.ID
}
