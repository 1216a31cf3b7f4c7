package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionKind distinguishes one-on-one bookings from one-to-many events.
type SessionKind string

const (
	SessionKindBooking SessionKind = "booking"
	SessionKindEvent   SessionKind = "event"
)

// StreamStatus is the live state of a session. It only moves forward.
type StreamStatus string

const (
	StreamStatusNotStarted StreamStatus = "NOT_STARTED"
	StreamStatusLive       StreamStatus = "LIVE"
	StreamStatusEnded      StreamStatus = "ENDED"
)

func (s StreamStatus) rank() int {
	switch s {
	case StreamStatusNotStarted:
		return 0
	case StreamStatusLive:
		return 1
	case StreamStatusEnded:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s StreamStatus) Valid() bool { return s.rank() >= 0 }

// CanTransitionTo reports whether moving from s to next keeps the status monotonic.
// Re-applying the current status is allowed and is a no-op for callers.
func (s StreamStatus) CanTransitionTo(next StreamStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// Session is a booking or event that may host a live room.
type Session struct {
	ID             uuid.UUID    `json:"id"`
	Kind           SessionKind  `json:"kind"`
	Title          string       `json:"title"`
	RoomName       string       `json:"room_name,omitempty"`
	StreamStatus   StreamStatus `json:"stream_status"`
	ProviderID     uuid.UUID    `json:"provider_id"`
	ParticipantIDs []uuid.UUID  `json:"participant_ids"`
	Recording      RecordingRef `json:"recording"`
	StartsAt       time.Time    `json:"starts_at"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// IsProvider reports whether userID controls the session.
func (s *Session) IsProvider(userID uuid.UUID) bool {
	return s != nil && s.ProviderID == userID
}

// IsParticipant reports whether userID is a confirmed participant.
func (s *Session) IsParticipant(userID uuid.UUID) bool {
	if s == nil {
		return false
	}
	for _, id := range s.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// CanJoin reports whether userID may join the room (provider or participant).
func (s *Session) CanJoin(userID uuid.UUID) bool {
	return s.IsProvider(userID) || s.IsParticipant(userID)
}

// Clone returns a deep copy so stores can hand out values without sharing slices.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.ParticipantIDs = append([]uuid.UUID(nil), s.ParticipantIDs...)
	return &out
}

// SessionPatch carries the mutable session fields; nil means "leave unchanged".
type SessionPatch struct {
	Title          *string
	RoomName       *string
	StartsAt       *time.Time
	ParticipantIDs []uuid.UUID
}
