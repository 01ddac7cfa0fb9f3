package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"statusrelay/internal/model"
)

var ignoreTimestamps = cmpopts.IgnoreFields(model.Subscription{}, "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSubscriptionCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	crosspost := int64(-100999)
	tests := []struct {
		name string
		sub  model.Subscription
	}{
		{
			name: "status subscription",
			sub: model.Subscription{
				GuildID:   "guild-1",
				ChannelID: 1001,
				Kind:      model.FeedStatus,
			},
		},
		{
			name: "comment subscription with crosspost",
			sub: model.Subscription{
				GuildID:         "guild-2",
				ChannelID:       1002,
				Kind:            model.FeedComments,
				AutoCrosspost:   true,
				CrosspostChatID: &crosspost,
				LastCommentID:   512,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := tt.sub
			if err := s.CreateSubscription(ctx, &sub); err != nil {
				t.Fatalf("create: %v", err)
			}
			if sub.ID == 0 {
				t.Fatal("create did not assign an id")
			}

			got, err := s.GetSubscription(ctx, sub.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(&sub, got, ignoreTimestamps); diff != "" {
				t.Errorf("subscription mismatch (-want +got):\n%s", diff)
			}

			sub.LastCommentID = 999
			sub.AutoCrosspost = false
			if err := s.UpdateSubscription(ctx, &sub); err != nil {
				t.Fatalf("update: %v", err)
			}
			got, err = s.GetSubscription(ctx, sub.ID)
			if err != nil {
				t.Fatalf("get after update: %v", err)
			}
			if got.LastCommentID != 999 || got.AutoCrosspost {
				t.Errorf("update not persisted: %+v", got)
			}

			if err := s.DeleteSubscription(ctx, sub.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.GetSubscription(ctx, sub.ID); err != ErrNotFound {
				t.Errorf("get after delete: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSubscriptionUniqueness(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	first := model.Subscription{GuildID: "g", ChannelID: 5, Kind: model.FeedStatus}
	if err := s.CreateSubscription(ctx, &first); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := model.Subscription{GuildID: "g", ChannelID: 5, Kind: model.FeedStatus}
	if err := s.CreateSubscription(ctx, &dup); err != ErrDuplicate {
		t.Errorf("duplicate create: err = %v, want ErrDuplicate", err)
	}

	// Same channel with a different kind is a distinct subscription.
	other := model.Subscription{GuildID: "g", ChannelID: 5, Kind: model.FeedComments}
	if err := s.CreateSubscription(ctx, &other); err != nil {
		t.Errorf("different kind rejected: %v", err)
	}
}

func TestReplaceTracked(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	sub := model.Subscription{GuildID: "g", ChannelID: 5, Kind: model.FeedStatus}
	if err := s.CreateSubscription(ctx, &sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tracked := []model.TrackedEntity{
		{EntityID: "inc-1", MessageID: 10, LastUpdateID: "u2", UpdatedAt: now},
		{EntityID: "inc-2", MessageID: 11, LastUpdateID: "u1", UpdatedAt: now},
	}
	if err := s.ReplaceTracked(ctx, sub.ID, tracked); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(tracked, got.Tracked); diff != "" {
		t.Errorf("tracked mismatch (-want +got):\n%s", diff)
	}

	if err := s.ReplaceTracked(ctx, sub.ID, tracked[1:]); err != nil {
		t.Fatalf("replace with smaller set: %v", err)
	}
	got, err = s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Tracked) != 1 || got.Tracked[0].EntityID != "inc-2" {
		t.Errorf("replace did not shrink set: %+v", got.Tracked)
	}
}

func TestCheckpointAdvanceIfGreater(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if _, err := s.Checkpoint(ctx, model.FeedComments); err != ErrNotFound {
		t.Fatalf("missing checkpoint: err = %v, want ErrNotFound", err)
	}

	tests := []struct {
		value       int64
		wantChanged bool
		wantStored  int64
	}{
		{value: 10, wantChanged: true, wantStored: 10},
		{value: 25, wantChanged: true, wantStored: 25},
		{value: 25, wantChanged: false, wantStored: 25},
		{value: 7, wantChanged: false, wantStored: 25},
		{value: 26, wantChanged: true, wantStored: 26},
	}

	for _, tt := range tests {
		changed, err := s.AdvanceCheckpoint(ctx, model.FeedComments, tt.value)
		if err != nil {
			t.Fatalf("advance(%d): %v", tt.value, err)
		}
		if changed != tt.wantChanged {
			t.Errorf("advance(%d) changed = %v, want %v", tt.value, changed, tt.wantChanged)
		}
		stored, err := s.Checkpoint(ctx, model.FeedComments)
		if err != nil {
			t.Fatalf("read checkpoint: %v", err)
		}
		if stored != tt.wantStored {
			t.Errorf("after advance(%d): stored = %d, want %d", tt.value, stored, tt.wantStored)
		}
	}
}

// Concurrent advancement from the push and poll paths must leave the
// stored value at the maximum ever passed in.
func TestCheckpointConcurrentAdvance(t *testing.T) {
	ctx := context.Background()
	// A file-backed database: concurrent access pulls multiple pooled
	// connections, and each in-memory connection would see its own db.
	s, err := NewSQLite(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			if _, err := s.AdvanceCheckpoint(ctx, model.FeedComments, v); err != nil {
				t.Errorf("advance(%d): %v", v, err)
			}
		}(int64(i))
	}
	wg.Wait()

	stored, err := s.Checkpoint(ctx, model.FeedComments)
	if err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}
	if stored != 50 {
		t.Errorf("stored = %d, want 50", stored)
	}
}

func TestInitCheckpointRaceIsSuccess(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.InitCheckpoint(ctx, model.FeedComments, 100); err != nil {
		t.Fatalf("init: %v", err)
	}
	// A second initializer lost the race; the original value stands.
	if err := s.InitCheckpoint(ctx, model.FeedComments, 7); err != nil {
		t.Fatalf("racing init: %v", err)
	}

	stored, err := s.Checkpoint(ctx, model.FeedComments)
	if err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}
	if stored != 100 {
		t.Errorf("stored = %d, want 100", stored)
	}
}

func TestListSubscriptionsByKind(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	for i, kind := range []model.FeedKind{model.FeedStatus, model.FeedComments, model.FeedStatus} {
		sub := model.Subscription{GuildID: "g", ChannelID: int64(100 + i), Kind: kind}
		if err := s.CreateSubscription(ctx, &sub); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	status, err := s.ListSubscriptions(ctx, model.FeedStatus)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(status) != 2 {
		t.Errorf("status subscriptions = %d, want 2", len(status))
	}
	comments, err := s.ListSubscriptions(ctx, model.FeedComments)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(comments) != 1 {
		t.Errorf("comment subscriptions = %d, want 1", len(comments))
	}
}
