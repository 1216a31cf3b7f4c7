package recordings

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/sessions"
	"github.com/aura-live/backend/pkg/queue"
	"github.com/aura-live/backend/pkg/response"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Webhook-Signature"

// RecordingReadyPayload is the expected body from the provider's recording_ready webhook.
type RecordingReadyPayload struct {
	SessionID   string `json:"session_id"`
	RecordingID string `json:"recording_id"`
	FileURL     string `json:"file_url"`
}

// UploadEnqueuer schedules archival of a finished recording.
type UploadEnqueuer interface {
	EnqueueRecordingUpload(ctx context.Context, payload queue.RecordingUploadPayload) error
}

// WebhookHandler handles recording webhooks from the media provider.
type WebhookHandler struct {
	store  sessions.Store
	queue  UploadEnqueuer
	secret []byte
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler. An empty secret disables signature checks.
func NewWebhookHandler(store sessions.Store, q UploadEnqueuer, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{store: store, queue: q, secret: []byte(secret), logger: logger}
}

// RecordingReady handles POST /webhooks/recording-ready. It attaches the
// playable URL to the session and enqueues an archival upload.
func (h *WebhookHandler) RecordingReady(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	if !h.validSignature(c.GetHeader(SignatureHeader), raw) {
		response.Unauthorized(c, "invalid signature")
		return
	}
	var body RecordingReadyPayload
	if err := json.Unmarshal(raw, &body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if body.FileURL == "" {
		response.BadRequest(c, "file_url required")
		return
	}
	sessionID, err := uuid.Parse(body.SessionID)
	if err != nil {
		response.BadRequest(c, "invalid session_id")
		return
	}

	ctx := c.Request.Context()
	s, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		liveerr.Write(c, err)
		return
	}
	if s.Recording.ExternalID == "" || (body.RecordingID != "" && body.RecordingID != s.Recording.ExternalID) {
		h.logger.Warn("recording_ready for unknown recording",
			zap.String("session_id", sessionID.String()),
			zap.String("recording_id", body.RecordingID),
			zap.String("current_recording_id", s.Recording.ExternalID))
		liveerr.Write(c, fmt.Errorf("recording %q: %w", body.RecordingID, liveerr.ErrNotFound))
		return
	}

	if s.Recording.StoppedAt == nil {
		// The capture is still running; stop must close it out first.
		h.logger.Warn("recording_ready before stop",
			zap.String("session_id", sessionID.String()),
			zap.String("recording_id", s.Recording.ExternalID))
		liveerr.Write(c, fmt.Errorf("recording %q: %w", s.Recording.ExternalID, liveerr.ErrAlreadyRecording))
		return
	}

	s, err = sessions.AttachRecordingURL(ctx, h.store, sessionID, body.FileURL)
	if err != nil {
		h.logger.Error("attach recording url failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		liveerr.Write(c, err)
		return
	}

	if h.queue != nil {
		if err := h.queue.EnqueueRecordingUpload(ctx, queue.RecordingUploadPayload{
			SessionID:  sessionID,
			ExternalID: s.Recording.ExternalID,
			SourceURL:  body.FileURL,
		}); err != nil {
			// The URL is attached already; archival can be replayed from the provider.
			h.logger.Error("enqueue recording upload failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		}
	}

	h.logger.Info("recording_ready webhook processed",
		zap.String("session_id", sessionID.String()),
		zap.String("recording_id", s.Recording.ExternalID))
	response.OK(c, gin.H{"session_id": sessionID, "recording_id": s.Recording.ExternalID, "state": s.Recording.State()})
}

func (h *WebhookHandler) validSignature(sig string, body []byte) bool {
	if len(h.secret) == 0 {
		return true
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(want, mac.Sum(nil))
}

// Sign computes the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
