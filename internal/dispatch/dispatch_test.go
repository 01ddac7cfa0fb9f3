package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"statusrelay/internal/model"
	"statusrelay/internal/platform"
	"statusrelay/internal/reconcile"
	"statusrelay/internal/render"
)

type sentMessage struct {
	ChannelID int64
	Text      string
}

type editedMessage struct {
	ChannelID int64
	MessageID int64
	Text      string
}

type fakePlatform struct {
	nextMsgID  int64
	sent       []sentMessage
	edited     []editedMessage
	crossposts int

	sendErr      error
	editErr      error
	crosspostErr error
}

func (f *fakePlatform) Send(_ context.Context, channelID int64, payload render.Payload) (int64, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextMsgID++
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Text: payload.Text()})
	return f.nextMsgID, nil
}

func (f *fakePlatform) Edit(_ context.Context, channelID, messageID int64, payload render.Payload) error {
	if f.editErr != nil {
		return f.editErr
	}
	f.edited = append(f.edited, editedMessage{ChannelID: channelID, MessageID: messageID, Text: payload.Text()})
	return nil
}

func (f *fakePlatform) Crosspost(_ context.Context, _, _, _ int64) error {
	if f.crosspostErr != nil {
		return f.crosspostErr
	}
	f.crossposts++
	return nil
}

type staticMention string

func (m staticMention) Mention(string, model.FeedKind, string) string { return string(m) }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func incident(id string, updates ...model.SubUpdate) model.Entity {
	return model.Entity{
		ID:      id,
		Kind:    model.FeedStatus,
		Status:  model.StatusInvestigating,
		Impact:  "major",
		Title:   "API errors",
		URL:     "https://status.example.com/incidents/" + id,
		Updates: updates,
	}
}

func statusSub() *model.Subscription {
	return &model.Subscription{ID: 1, GuildID: "g1", ChannelID: 500, Kind: model.FeedStatus}
}

func TestCreateTracksIncident(t *testing.T) {
	fp := &fakePlatform{}
	d := New(fp, staticMention("@ops"), discard())
	sub := statusSub()

	e := incident("inc-1",
		model.SubUpdate{ID: "u1", Body: "looking into it"},
		model.SubUpdate{ID: "u2", Body: "root cause found"},
	)
	changed, err := d.Apply(context.Background(), sub, reconcile.Action{Kind: reconcile.ActionCreate, Entity: e})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !changed {
		t.Error("create reported no change")
	}
	if len(fp.sent) != 1 || fp.sent[0].ChannelID != 500 {
		t.Fatalf("sent = %+v", fp.sent)
	}
	if !strings.Contains(fp.sent[0].Text, "@ops") {
		t.Errorf("mention missing from %q", fp.sent[0].Text)
	}
	if len(sub.Tracked) != 1 {
		t.Fatalf("tracked = %+v", sub.Tracked)
	}
	tr := sub.Tracked[0]
	if tr.EntityID != "inc-1" || tr.MessageID != 1 {
		t.Errorf("tracked = %+v", tr)
	}
	if tr.LastUpdateID != "u2" {
		t.Errorf("LastUpdateID = %q, want latest update u2", tr.LastUpdateID)
	}
}

func TestCreateSendFailureStillTracks(t *testing.T) {
	fp := &fakePlatform{sendErr: errors.New("boom")}
	d := New(fp, nil, discard())
	sub := statusSub()

	changed, err := d.Apply(context.Background(), sub, reconcile.Action{
		Kind:   reconcile.ActionCreate,
		Entity: incident("inc-1", model.SubUpdate{ID: "u1"}),
	})
	if err == nil {
		t.Fatal("expected send error")
	}
	if !changed {
		t.Error("failed send must still report a tracked-state change")
	}
	if len(sub.Tracked) != 1 || sub.Tracked[0].MessageID != 0 {
		t.Fatalf("tracked = %+v, want one entry with message id 0", sub.Tracked)
	}
}

func TestCreateCommentDoesNotTrack(t *testing.T) {
	fp := &fakePlatform{}
	d := New(fp, nil, discard())
	sub := &model.Subscription{ID: 2, ChannelID: 600, Kind: model.FeedComments}

	changed, err := d.Apply(context.Background(), sub, reconcile.Action{
		Kind:   reconcile.ActionCreate,
		Entity: model.Entity{ID: "42", NumericID: 42, Kind: model.FeedComments, Title: "Comment on abc1234", Body: "lgtm"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if changed {
		t.Error("comment create must not change tracked state")
	}
	if len(fp.sent) != 1 {
		t.Fatalf("sent = %+v", fp.sent)
	}
	if len(sub.Tracked) != 0 {
		t.Errorf("tracked = %+v, want none", sub.Tracked)
	}
}

func TestCreateCrosspostFailureIsNonFatal(t *testing.T) {
	crosspostChat := int64(900)
	fp := &fakePlatform{crosspostErr: errors.New("broadcast down")}
	d := New(fp, nil, discard())
	sub := statusSub()
	sub.AutoCrosspost = true
	sub.CrosspostChatID = &crosspostChat

	changed, err := d.Apply(context.Background(), sub, reconcile.Action{
		Kind:   reconcile.ActionCreate,
		Entity: incident("inc-1", model.SubUpdate{ID: "u1"}),
	})
	if err != nil {
		t.Fatalf("crosspost failure leaked: %v", err)
	}
	if !changed || len(sub.Tracked) != 1 {
		t.Errorf("changed = %v, tracked = %+v", changed, sub.Tracked)
	}
}

func TestEditUpdatesMarker(t *testing.T) {
	fp := &fakePlatform{}
	d := New(fp, nil, discard())
	d.now = func() time.Time { return time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC) }
	sub := statusSub()
	sub.Tracked = []model.TrackedEntity{{EntityID: "inc-1", MessageID: 7, LastUpdateID: "u1"}}

	changed, err := d.Apply(context.Background(), sub, reconcile.Action{
		Kind:    reconcile.ActionEdit,
		Entity:  incident("inc-1", model.SubUpdate{ID: "u1"}, model.SubUpdate{ID: "u2"}),
		Tracked: &sub.Tracked[0],
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !changed {
		t.Error("edit reported no change")
	}
	if len(fp.edited) != 1 || fp.edited[0].MessageID != 7 {
		t.Fatalf("edited = %+v", fp.edited)
	}
	if sub.Tracked[0].LastUpdateID != "u2" {
		t.Errorf("LastUpdateID = %q, want u2", sub.Tracked[0].LastUpdateID)
	}
	if sub.Tracked[0].UpdatedAt != d.now() {
		t.Errorf("UpdatedAt = %v", sub.Tracked[0].UpdatedAt)
	}
}

func TestEditMissingMessageUntracks(t *testing.T) {
	fp := &fakePlatform{editErr: &platform.Error{Kind: platform.KindNotFound, Err: errors.New("message to edit not found")}}
	d := New(fp, nil, discard())
	sub := statusSub()
	sub.Tracked = []model.TrackedEntity{{EntityID: "inc-1", MessageID: 7}}

	changed, err := d.Apply(context.Background(), sub, reconcile.Action{
		Kind:    reconcile.ActionEdit,
		Entity:  incident("inc-1", model.SubUpdate{ID: "u2"}),
		Tracked: &sub.Tracked[0],
	})
	if err != nil {
		t.Fatalf("not-found must not surface: %v", err)
	}
	if !changed {
		t.Error("untracking is a change")
	}
	if len(sub.Tracked) != 0 {
		t.Errorf("tracked = %+v, want none", sub.Tracked)
	}
}

func TestEditOtherFailureKeepsTracking(t *testing.T) {
	fp := &fakePlatform{editErr: &platform.Error{Kind: platform.KindRateLimited, Err: errors.New("too many requests")}}
	d := New(fp, nil, discard())
	sub := statusSub()
	sub.Tracked = []model.TrackedEntity{{EntityID: "inc-1", MessageID: 7, LastUpdateID: "u1"}}

	changed, err := d.Apply(context.Background(), sub, reconcile.Action{
		Kind:    reconcile.ActionEdit,
		Entity:  incident("inc-1", model.SubUpdate{ID: "u2"}),
		Tracked: &sub.Tracked[0],
	})
	if err == nil {
		t.Fatal("expected edit error")
	}
	if changed {
		t.Error("failed edit must not report a change")
	}
	if sub.Tracked[0].LastUpdateID != "u1" {
		t.Errorf("marker advanced past a failed edit: %q", sub.Tracked[0].LastUpdateID)
	}
}

func TestFinalizeEditsAndUntracks(t *testing.T) {
	fp := &fakePlatform{}
	d := New(fp, nil, discard())
	sub := statusSub()
	sub.Tracked = []model.TrackedEntity{{EntityID: "inc-1", MessageID: 7}}

	e := incident("inc-1", model.SubUpdate{ID: "u3", Body: "all clear"})
	e.Status = model.StatusResolved
	changed, err := d.Apply(context.Background(), sub, reconcile.Action{
		Kind:    reconcile.ActionFinalize,
		Entity:  e,
		Tracked: &sub.Tracked[0],
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !changed || len(sub.Tracked) != 0 {
		t.Errorf("changed = %v, tracked = %+v", changed, sub.Tracked)
	}
	if len(fp.edited) != 1 {
		t.Fatalf("edited = %+v", fp.edited)
	}
}

func TestFinalizeUntracksDespiteEditFailure(t *testing.T) {
	fp := &fakePlatform{editErr: errors.New("platform down")}
	d := New(fp, nil, discard())
	sub := statusSub()
	sub.Tracked = []model.TrackedEntity{{EntityID: "inc-1", MessageID: 7}}

	changed, err := d.Apply(context.Background(), sub, reconcile.Action{
		Kind:    reconcile.ActionFinalize,
		Entity:  incident("inc-1"),
		Tracked: &sub.Tracked[0],
	})
	if err != nil {
		t.Fatalf("finalize must be best effort: %v", err)
	}
	if !changed || len(sub.Tracked) != 0 {
		t.Errorf("changed = %v, tracked = %+v", changed, sub.Tracked)
	}
}

func TestFinalizeSkipsEditForUnknownMessage(t *testing.T) {
	fp := &fakePlatform{}
	d := New(fp, nil, discard())
	sub := statusSub()
	sub.Tracked = []model.TrackedEntity{{EntityID: "inc-1", MessageID: 0}}

	if _, err := d.Apply(context.Background(), sub, reconcile.Action{
		Kind:    reconcile.ActionFinalize,
		Entity:  incident("inc-1"),
		Tracked: &sub.Tracked[0],
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(fp.edited) != 0 {
		t.Errorf("edited a message that was never sent: %+v", fp.edited)
	}
	if len(sub.Tracked) != 0 {
		t.Errorf("tracked = %+v, want none", sub.Tracked)
	}
}

func TestTrackReplacesExistingEntry(t *testing.T) {
	fp := &fakePlatform{}
	d := New(fp, nil, discard())
	sub := statusSub()
	sub.Tracked = []model.TrackedEntity{{EntityID: "inc-1", MessageID: 0}}

	if _, err := d.Apply(context.Background(), sub, reconcile.Action{
		Kind:   reconcile.ActionCreate,
		Entity: incident("inc-1", model.SubUpdate{ID: "u1"}),
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(sub.Tracked) != 1 {
		t.Fatalf("tracked = %+v, want exactly one entry per entity id", sub.Tracked)
	}
	if sub.Tracked[0].MessageID != 1 {
		t.Errorf("message id = %d, want the fresh send", sub.Tracked[0].MessageID)
	}
}
