package engagement

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/middleware"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/pkg/response"
)

// CommentRequest is the body for POST /sessions/:id/comments.
type CommentRequest struct {
	Text string `json:"text"`
}

// Handler handles comment and reaction endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates an engagement handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// PostComment handles POST /sessions/:id/comments.
func (h *Handler) PostComment(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	comment, err := h.svc.PostComment(c.Request.Context(), sessionID, userID, req.Text)
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	response.Created(c, comment)
}

// ListComments handles GET /sessions/:id/comments?limit=N (oldest first).
func (h *Handler) ListComments(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
	}
	list, err := h.svc.ListComments(c.Request.Context(), sessionID, limit)
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	if list == nil {
		list = []models.Comment{}
	}
	response.OK(c, gin.H{"comments": list})
}

// ToggleLike handles POST /sessions/:id/likes.
func (h *Handler) ToggleLike(c *gin.Context) {
	h.toggle(c, h.svc.ToggleLike)
}

// ToggleBookmark handles POST /sessions/:id/bookmarks.
func (h *Handler) ToggleBookmark(c *gin.Context) {
	h.toggle(c, h.svc.ToggleBookmark)
}

func (h *Handler) toggle(c *gin.Context, fn func(ctx context.Context, sessionID, userID uuid.UUID) (models.ReactionSummary, error)) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	summary, err := fn(c.Request.Context(), sessionID, userID)
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	response.OK(c, summary)
}
