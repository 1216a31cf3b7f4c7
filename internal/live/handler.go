package live

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/middleware"
	"github.com/aura-live/backend/pkg/response"
)

// JoinRequest is the optional body for POST /sessions/:id/join.
type JoinRequest struct {
	DisplayName string `json:"display_name"`
}

// Handler handles session lifecycle endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a live handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /sessions. The caller becomes the provider.
func (h *Handler) Create(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := h.svc.CreateSession(c.Request.Context(), userID, in)
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	response.Created(c, s)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := h.svc.GetSession(c.Request.Context(), id, c.MustGet(middleware.ContextUserID).(uuid.UUID))
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	response.OK(c, s)
}

// ProvisionRoom handles POST /sessions/:id/room.
func (h *Handler) ProvisionRoom(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := h.svc.ProvisionRoom(c.Request.Context(), id, c.MustGet(middleware.ContextUserID).(uuid.UUID))
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	response.OK(c, gin.H{"session_id": s.ID, "room": s.RoomName})
}

// Join handles POST /sessions/:id/join and returns a join ticket.
func (h *Handler) Join(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req JoinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	ticket, err := h.svc.IssueJoinTicket(c.Request.Context(), id, c.MustGet(middleware.ContextUserID).(uuid.UUID), req.DisplayName)
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	response.OK(c, ticket)
}

// End handles POST /sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := h.svc.EndSession(c.Request.Context(), id, c.MustGet(middleware.ContextUserID).(uuid.UUID))
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	response.OK(c, s)
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}
