// Package recordings coordinates server-side recording of a session's room and
// resolves finished recordings to download links.
package recordings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/sessions"
	"github.com/aura-live/backend/internal/telemetry"
)

// Recorder captures a room. Stop only initiates finalization; the artifact is
// attached to the session later.
type Recorder interface {
	Start(ctx context.Context, target Target) (externalID string, err error)
	Stop(ctx context.Context, sessionID uuid.UUID, externalID string) error
}

// Target identifies the room a recording captures and whose media it follows.
type Target struct {
	SessionID  uuid.UUID
	RoomName   string
	ProviderID uuid.UUID
}

// Resolver turns an internal storage key into a time-limited download URL.
type Resolver interface {
	ResolveDownloadURL(ctx context.Context, key string) (string, error)
}

// Controller starts and stops recordings and hands out download links.
type Controller struct {
	store    sessions.Store
	recorder Recorder
	resolver Resolver
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewController(store sessions.Store, recorder Recorder, resolver Resolver, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:    store,
		recorder: recorder,
		resolver: resolver,
		logger:   logger,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// lock serializes start/stop for one session within this process.
func (c *Controller) lock(sessionID uuid.UUID) func() {
	c.mu.Lock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sessionID] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Start begins recording the session's room. Only the provider may start, and
// not while another recording is in progress.
func (c *Controller) Start(ctx context.Context, sessionID, actorID uuid.UUID) (*models.Session, error) {
	unlock := c.lock(sessionID)
	defer unlock()

	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.IsProvider(actorID) {
		return nil, c.fail("recording_start", liveerr.ErrForbidden)
	}
	if s.Recording.State() == models.RecordingInProgress {
		return nil, c.fail("recording_start", liveerr.ErrAlreadyRecording)
	}
	if s.RoomName == "" || s.StreamStatus == models.StreamStatusEnded {
		return nil, c.fail("recording_start", fmt.Errorf("session %s has no live room: %w", sessionID, liveerr.ErrRoomUnavailable))
	}

	externalID, err := c.recorder.Start(ctx, Target{SessionID: sessionID, RoomName: s.RoomName, ProviderID: s.ProviderID})
	if err != nil {
		c.logger.Error("start recording failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return nil, c.fail("recording_start", fmt.Errorf("start recording: %w", err))
	}
	now := time.Now().UTC()
	updated, err := c.store.AttachRecordingRef(ctx, sessionID, models.RecordingPatch{ExternalID: &externalID, StartedAt: &now})
	if err != nil {
		// Nothing points at the running recording; stop it.
		if stopErr := c.recorder.Stop(context.WithoutCancel(ctx), sessionID, externalID); stopErr != nil {
			c.logger.Warn("stop orphaned recording", zap.String("recording_id", externalID), zap.Error(stopErr))
		}
		return nil, c.fail("recording_start", fmt.Errorf("persist recording id: %w", err))
	}

	telemetry.Success("recording_start")
	c.logger.Info("recording started", zap.String("session_id", sessionID.String()), zap.String("recording_id", externalID))
	return updated, nil
}

// Stop ends the in-progress recording. The artifact is finalized asynchronously;
// until then the session's recording is processing and not downloadable.
func (c *Controller) Stop(ctx context.Context, sessionID, actorID uuid.UUID) (*models.Session, error) {
	unlock := c.lock(sessionID)
	defer unlock()

	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.IsProvider(actorID) {
		return nil, c.fail("recording_stop", liveerr.ErrForbidden)
	}
	if s.Recording.State() != models.RecordingInProgress {
		return nil, c.fail("recording_stop", liveerr.ErrNotRecording)
	}
	return c.stop(ctx, s)
}

// StopAll stops the listed sessions' recordings without an actor check. It is
// used on shutdown so no session is left marked in progress.
func (c *Controller) StopAll(ctx context.Context, sessionIDs []uuid.UUID) {
	for _, id := range sessionIDs {
		unlock := c.lock(id)
		s, err := c.store.GetSession(ctx, id)
		if err == nil && s.Recording.State() == models.RecordingInProgress {
			_, err = c.stop(ctx, s)
		}
		unlock()
		if err != nil {
			c.logger.Warn("stop recording on shutdown", zap.String("session_id", id.String()), zap.Error(err))
		}
	}
}

// stop must be called with the session lock held.
func (c *Controller) stop(ctx context.Context, s *models.Session) (*models.Session, error) {
	sessionID, externalID := s.ID, s.Recording.ExternalID
	if err := c.recorder.Stop(ctx, sessionID, externalID); err != nil {
		if !errors.Is(err, liveerr.ErrNotRecording) {
			c.logger.Error("stop recording failed", zap.String("session_id", sessionID.String()), zap.String("recording_id", externalID), zap.Error(err))
			return nil, c.fail("recording_stop", fmt.Errorf("stop recording: %w", err))
		}
		// The recorder lost it, typically across a restart. Close out the ref anyway.
		c.logger.Warn("recorder has no such recording, marking stopped",
			zap.String("session_id", sessionID.String()), zap.String("recording_id", externalID), zap.Error(err))
	}
	now := time.Now().UTC()
	pending := true
	updated, err := c.store.AttachRecordingRef(ctx, sessionID, models.RecordingPatch{URLPending: &pending, StoppedAt: &now})
	if err != nil {
		return nil, c.fail("recording_stop", fmt.Errorf("mark recording processing: %w", err))
	}

	telemetry.Success("recording_stop")
	c.logger.Info("recording stopped", zap.String("session_id", sessionID.String()), zap.String("recording_id", externalID))
	return updated, nil
}

// DownloadLink returns the best available link for the session's recording:
// the provider's playable URL, else the stored artifact as a signed URL.
func (c *Controller) DownloadLink(ctx context.Context, sessionID, actorID uuid.UUID) (string, error) {
	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !s.IsProvider(actorID) && !s.IsParticipant(actorID) {
		return "", c.fail("recording_download", liveerr.ErrForbidden)
	}
	if url, ok := s.Recording.PlayableURL(); ok {
		telemetry.Success("recording_download")
		return url, nil
	}
	if s.Recording.StorageKey == "" {
		return "", c.fail("recording_download", liveerr.ErrRecordingNotReady)
	}
	if c.resolver == nil {
		return "", c.fail("recording_download", fmt.Errorf("no artifact resolver: %w", liveerr.ErrStorageResolutionFailed))
	}
	url, err := c.resolver.ResolveDownloadURL(ctx, s.Recording.StorageKey)
	if err != nil {
		c.logger.Error("resolve recording artifact failed", zap.String("session_id", sessionID.String()), zap.String("key", s.Recording.StorageKey), zap.Error(err))
		return "", c.fail("recording_download", fmt.Errorf("%w: %v", liveerr.ErrStorageResolutionFailed, err))
	}
	telemetry.Success("recording_download")
	return url, nil
}

func (c *Controller) fail(op string, err error) error {
	telemetry.Failure(op, liveerr.CategoryOf(err).String())
	return err
}
