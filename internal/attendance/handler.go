package attendance

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/middleware"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/pkg/response"
)

// SessionLookup resolves the session's provider.
type SessionLookup interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Handler handles GET /sessions/:id/attendees.
type Handler struct {
	store    Store
	sessions SessionLookup
}

// NewHandler creates an attendance handler.
func NewHandler(store Store, sessions SessionLookup) *Handler {
	return &Handler{store: store, sessions: sessions}
}

// GetAttendees lists stays with join time and watch duration. Provider only.
func (h *Handler) GetAttendees(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ctx := c.Request.Context()
	s, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	if !s.IsProvider(userID) {
		liveerr.Write(c, liveerr.ErrForbidden)
		return
	}
	list, err := h.store.List(ctx, sessionID)
	if err != nil {
		response.Internal(c, "failed to list attendees")
		return
	}
	summary, err := h.store.Summary(ctx, sessionID)
	if err != nil {
		response.Internal(c, "failed to summarize attendance")
		return
	}
	if list == nil {
		list = []models.Attendance{}
	}
	response.OK(c, gin.H{"attendees": list, "summary": summary})
}
