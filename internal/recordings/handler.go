package recordings

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/middleware"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/pkg/response"
)

// Handler handles recording HTTP endpoints.
type Handler struct {
	ctrl *Controller
}

// NewHandler creates a recordings handler.
func NewHandler(ctrl *Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

type recordingResponse struct {
	SessionID   uuid.UUID             `json:"session_id"`
	RecordingID string                `json:"recording_id,omitempty"`
	State       models.RecordingState `json:"state"`
}

func toResponse(s *models.Session) recordingResponse {
	return recordingResponse{SessionID: s.ID, RecordingID: s.Recording.ExternalID, State: s.Recording.State()}
}

// Start handles POST /sessions/:id/recording/start. Provider only.
func (h *Handler) Start(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	s, err := h.ctrl.Start(c.Request.Context(), sessionID, userID)
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	response.OK(c, toResponse(s))
}

// Stop handles POST /sessions/:id/recording/stop. Provider only; finalization is asynchronous.
func (h *Handler) Stop(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	s, err := h.ctrl.Stop(c.Request.Context(), sessionID, userID)
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	response.OK(c, toResponse(s))
}

// Download handles GET /sessions/:id/recording/download. Provider or participant.
func (h *Handler) Download(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	url, err := h.ctrl.DownloadLink(c.Request.Context(), sessionID, userID)
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	response.OK(c, gin.H{"download_url": url})
}
