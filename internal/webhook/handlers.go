package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"statusrelay/internal/gate"
	"statusrelay/internal/model"
	"statusrelay/internal/storage"
	"statusrelay/internal/ttlcache"
)

// pendingTTL bounds how long a prepared subscription awaits confirmation.
const pendingTTL = 5 * time.Minute

// StatusRunner runs incident-feed reconciliation passes.
type StatusRunner interface {
	Run(ctx context.Context) (int, error)
}

// CommentRunner runs comment-feed passes and single push deliveries.
type CommentRunner interface {
	Run(ctx context.Context) (int, error)
	ProcessOne(ctx context.Context, entity model.Entity) error
}

type pendingSubscription struct {
	Sub    model.Subscription
	Reason string
}

// Handler holds the webhook server's dependencies.
type Handler struct {
	statusRec   StatusRunner
	commentRec  CommentRunner
	statusGate  *gate.Gate
	commentGate *gate.Gate
	store       storage.Storage
	pending     *ttlcache.Cache[string, pendingSubscription]
	log         *slog.Logger
}

// NewHandler wires a Handler.
func NewHandler(statusRec StatusRunner, commentRec CommentRunner, statusGate, commentGate *gate.Gate, store storage.Storage, log *slog.Logger) *Handler {
	return &Handler{
		statusRec:   statusRec,
		commentRec:  commentRec,
		statusGate:  statusGate,
		commentGate: commentGate,
		store:       store,
		pending:     ttlcache.New[string, pendingSubscription](pendingTTL),
		log:         log,
	}
}

// Health is the liveness endpoint.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StatusPush handles a status-feed push notification. The payload's
// incident data is advisory; the pass always runs against a freshly
// fetched active-set snapshot.
func (h *Handler) StatusPush(c *gin.Context) {
	h.statusGate.NotePush()

	if _, err := h.statusRec.Run(c.Request.Context()); err != nil {
		h.log.Error("push-triggered status pass failed", "error", err)
		h.statusGate.ReportFailure()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type commentPushPayload struct {
	Comment struct {
		ID        int64     `json:"id"`
		Body      string    `json:"body"`
		HTMLURL   string    `json:"html_url"`
		CommitID  string    `json:"commit_id"`
		CreatedAt time.Time `json:"created_at"`
		User      struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
}

// CommentPush handles a single commit-comment push notification.
func (h *Handler) CommentPush(c *gin.Context) {
	var payload commentPushPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Comment.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	sha := payload.Comment.CommitID
	if len(sha) > 7 {
		sha = sha[:7]
	}
	entity := model.Entity{
		ID:        strconv.FormatInt(payload.Comment.ID, 10),
		NumericID: payload.Comment.ID,
		Kind:      model.FeedComments,
		Title:     "Comment on " + sha,
		Body:      payload.Comment.Body,
		Author:    payload.Comment.User.Login,
		URL:       payload.Comment.HTMLURL,
		CreatedAt: payload.Comment.CreatedAt,
		UpdatedAt: payload.Comment.CreatedAt,
	}

	if err := h.commentRec.ProcessOne(c.Request.Context(), entity); err != nil {
		h.log.Error("push-triggered comment delivery failed", "entity_id", entity.ID, "error", err)
		h.commentGate.ReportFailure()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delivery failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ForcePoll runs one reconciliation pass outside the timer cadence and
// returns the count of entities processed.
func (h *Handler) ForcePoll(c *gin.Context) {
	var (
		processed int
		err       error
	)
	switch model.FeedKind(c.Param("feed")) {
	case model.FeedStatus:
		processed, err = h.statusRec.Run(c.Request.Context())
	case model.FeedComments:
		processed, err = h.commentRec.Run(c.Request.Context())
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown feed"})
		return
	}
	if err != nil {
		h.log.Error("forced poll failed", "feed", c.Param("feed"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "poll failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

type prepareRequest struct {
	GuildID         string `json:"guild_id" binding:"required"`
	ChannelID       int64  `json:"channel_id" binding:"required"`
	Feed            string `json:"feed" binding:"required"`
	AutoCrosspost   bool   `json:"auto_crosspost"`
	CrosspostChatID *int64 `json:"crosspost_chat_id"`
	Reason          string `json:"reason"`
}

// PrepareSubscription stashes a subscription request and returns a
// short-lived token; the follow-up confirmation finalizes it. The reason
// travels through the expiring store rather than any durable state.
func (h *Handler) PrepareSubscription(c *gin.Context) {
	var req prepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	kind := model.FeedKind(req.Feed)
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown feed"})
		return
	}

	// Abandoned tokens are swept here, the only place entries are added.
	if n := h.pending.Purge(); n > 0 {
		h.log.Debug("expired pending subscriptions swept", "count", n)
	}

	token := uuid.NewString()
	h.pending.Put(token, pendingSubscription{
		Sub: model.Subscription{
			GuildID:         req.GuildID,
			ChannelID:       req.ChannelID,
			Kind:            kind,
			AutoCrosspost:   req.AutoCrosspost,
			CrosspostChatID: req.CrosspostChatID,
		},
		Reason: req.Reason,
	})
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// ConfirmSubscription finalizes a prepared subscription.
func (h *Handler) ConfirmSubscription(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	p, ok := h.pending.Take(req.Token)
	if !ok {
		c.JSON(http.StatusGone, gin.H{"error": "token expired"})
		return
	}

	sub := p.Sub
	if err := h.store.CreateSubscription(c.Request.Context(), &sub); err != nil {
		if err == storage.ErrDuplicate {
			c.JSON(http.StatusConflict, gin.H{"error": "subscription already exists"})
			return
		}
		h.log.Error("create subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	h.log.Info("subscription created",
		"subscription_id", sub.ID,
		"guild_id", sub.GuildID,
		"channel_id", sub.ChannelID,
		"kind", string(sub.Kind),
		"reason", p.Reason)
	c.JSON(http.StatusCreated, gin.H{"id": sub.ID})
}

// DeleteSubscription removes a subscription and its tracked entities.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.store.DeleteSubscription(c.Request.Context(), id); err != nil {
		h.log.Error("delete subscription", "subscription_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
