// Package model defines the domain types used across the application.
package model

import "time"

// FeedKind identifies one of the two watched external event sources.
type FeedKind string

// Supported feed kinds.
const (
	FeedStatus   FeedKind = "status"
	FeedComments FeedKind = "comments"
)

// Valid reports whether k is a known feed kind.
func (k FeedKind) Valid() bool {
	return k == FeedStatus || k == FeedComments
}

// Subscription is a durable record of "deliver feed X's updates into channel C".
type Subscription struct {
	ID              int64
	GuildID         string
	ChannelID       int64
	Kind            FeedKind
	AutoCrosspost   bool
	CrosspostChatID *int64
	// LastCommentID is the per-subscription cursor for the comment feed.
	// It is distinct from the global checkpoint: a freshly created
	// subscription starts from "now" instead of replaying history.
	LastCommentID int64
	CreatedAt     time.Time

	// Tracked holds the incident-feed entities currently reflected by an
	// outbound message. Empty for comment-feed subscriptions.
	Tracked []TrackedEntity
}

// TrackedEntity is one external incident currently represented by an
// outbound message that must be kept in sync.
type TrackedEntity struct {
	EntityID string
	// MessageID is the outbound message representing the entity.
	// Zero if the original send failed.
	MessageID int64
	// LastUpdateID is the id of the most recently rendered sub-update,
	// used for change detection.
	LastUpdateID string
	UpdatedAt    time.Time
}

// EntityStatus is the lifecycle status of an external entity.
type EntityStatus string

// Statuses observed on the incident feed. The comment feed has no
// status dimension; its entities always carry StatusNone.
const (
	StatusNone          EntityStatus = ""
	StatusInvestigating EntityStatus = "investigating"
	StatusIdentified    EntityStatus = "identified"
	StatusMonitoring    EntityStatus = "monitoring"
	StatusResolved      EntityStatus = "resolved"
	StatusScheduled     EntityStatus = "scheduled"
	StatusInProgress    EntityStatus = "in_progress"
	StatusVerifying     EntityStatus = "verifying"
	StatusCompleted     EntityStatus = "completed"
)

// Terminal reports whether the status ends an entity's active life.
func (s EntityStatus) Terminal() bool {
	return s == StatusResolved || s == StatusCompleted
}

// SubUpdate is one status transition posted against an entity over time.
type SubUpdate struct {
	ID        string
	Status    EntityStatus
	Body      string
	CreatedAt time.Time
}

// Entity is a normalized record from either feed.
type Entity struct {
	// ID is the external identifier. Incident ids are opaque strings;
	// comment ids are the decimal form of NumericID.
	ID        string
	NumericID int64
	Kind      FeedKind
	Status    EntityStatus
	// Impact carries the incident impact ("minor", "major", "critical").
	// Used for role-mention lookup.
	Impact    string
	Title     string
	Body      string
	Author    string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
	// Updates are ordered oldest first. Empty for comments.
	Updates     []SubUpdate
	Attachments []string
}

// LatestUpdate returns the most recent sub-update, or nil if none exist.
func (e *Entity) LatestUpdate() *SubUpdate {
	if len(e.Updates) == 0 {
		return nil
	}
	return &e.Updates[len(e.Updates)-1]
}

// FirstUpdateID returns the id of the oldest sub-update, or the empty
// string if the entity carries none.
func (e *Entity) FirstUpdateID() string {
	if len(e.Updates) == 0 {
		return ""
	}
	return e.Updates[0].ID
}
