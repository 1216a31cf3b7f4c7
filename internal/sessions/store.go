// Package sessions is the Session Record Store: persisted bookings/events carrying
// live-session metadata (room name, stream status, recording pointers).
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/models"
)

// Store is the persistence boundary consumed by the live-session core.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// PatchSession updates mutable fields. RoomName may be assigned once.
	PatchSession(ctx context.Context, id uuid.UUID, patch models.SessionPatch) (*models.Session, error)
	// SetStreamStatus rejects backward transitions with liveerr.ErrInvalidStreamStatusTransition.
	SetStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus) (*models.Session, error)
	// AttachRecordingRef merges a partial recording pointer into the session.
	AttachRecordingRef(ctx context.Context, id uuid.UUID, patch models.RecordingPatch) (*models.Session, error)
}

// applyPatch validates and applies patch to s in place.
func applyPatch(s *models.Session, patch models.SessionPatch) error {
	if patch.RoomName != nil {
		name := *patch.RoomName
		if name == "" {
			return fmt.Errorf("room name: %w", liveerr.ErrInvalidInput)
		}
		if s.RoomName != "" && s.RoomName != name {
			return liveerr.ErrRoomNameImmutable
		}
		s.RoomName = name
	}
	if patch.Title != nil {
		s.Title = *patch.Title
	}
	if patch.StartsAt != nil {
		s.StartsAt = *patch.StartsAt
	}
	if patch.ParticipantIDs != nil {
		s.ParticipantIDs = append([]uuid.UUID(nil), patch.ParticipantIDs...)
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// applyStatus validates a stream status transition on s in place.
func applyStatus(s *models.Session, status models.StreamStatus) error {
	if !s.StreamStatus.CanTransitionTo(status) {
		return fmt.Errorf("%s -> %s: %w", s.StreamStatus, status, liveerr.ErrInvalidStreamStatusTransition)
	}
	if s.StreamStatus != status {
		s.StreamStatus = status
		s.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// RoomNameFor is the external room name assigned to a session.
func RoomNameFor(id uuid.UUID) string {
	return "room-" + id.String()
}

// ProvisionRoom assigns the session's room name if it has none. It is idempotent.
func ProvisionRoom(ctx context.Context, store Store, id uuid.UUID) (*models.Session, error) {
	s, err := store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.RoomName != "" {
		return s, nil
	}
	name := RoomNameFor(id)
	return store.PatchSession(ctx, id, models.SessionPatch{RoomName: &name})
}

// UpdateStreamStatus moves the session status and, when given, records the external recording id.
func UpdateStreamStatus(ctx context.Context, store Store, id uuid.UUID, status models.StreamStatus, recordingID string) (*models.Session, error) {
	s, err := store.SetStreamStatus(ctx, id, status)
	if err != nil || recordingID == "" {
		return s, err
	}
	return store.AttachRecordingRef(ctx, id, models.RecordingPatch{ExternalID: &recordingID})
}

// AttachRecordingURL records a playable URL for the session's recording.
func AttachRecordingURL(ctx context.Context, store Store, id uuid.UUID, url string) (*models.Session, error) {
	return store.AttachRecordingRef(ctx, id, models.RecordingPatch{URL: &url})
}

// AttachRecordingStorageRef records the internal storage key of the session's recording.
func AttachRecordingStorageRef(ctx context.Context, store Store, id uuid.UUID, key string) (*models.Session, error) {
	return store.AttachRecordingRef(ctx, id, models.RecordingPatch{StorageKey: &key})
}
