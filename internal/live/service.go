// Package live is the session-facing API: creating bookings and events,
// provisioning their rooms, issuing join tickets and ending sessions.
package live

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/sessions"
	"github.com/aura-live/backend/internal/telemetry"
)

// RoomCloser disconnects everyone still in a session's room.
type RoomCloser interface {
	CloseSession(sessionID uuid.UUID)
}

// CreateInput describes a new booking or event.
type CreateInput struct {
	Kind           models.SessionKind `json:"kind"`
	Title          string             `json:"title"`
	StartsAt       time.Time          `json:"starts_at"`
	ParticipantIDs []uuid.UUID        `json:"participant_ids"`
}

// JoinTicket is everything a client needs to connect to the room.
type JoinTicket struct {
	SessionID   uuid.UUID `json:"session_id"`
	Room        string    `json:"room"`
	Address     string    `json:"address"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
}

// Service implements the session lifecycle around the room.
type Service struct {
	store   sessions.Store
	tokens  *auth.RoomTokenIssuer
	rooms   RoomCloser
	address string
	log     *zap.Logger
}

// NewService creates the live service. address is the public websocket URL of
// the realtime endpoint; rooms may be nil.
func NewService(store sessions.Store, tokens *auth.RoomTokenIssuer, rooms RoomCloser, address string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, tokens: tokens, rooms: rooms, address: address, log: log}
}

// CreateSession creates a booking (exactly one participant) or an event.
func (s *Service) CreateSession(ctx context.Context, providerID uuid.UUID, in CreateInput) (*models.Session, error) {
	switch in.Kind {
	case models.SessionKindBooking:
		if len(in.ParticipantIDs) != 1 {
			return nil, fmt.Errorf("a booking has exactly one participant: %w", liveerr.ErrInvalidInput)
		}
	case models.SessionKindEvent:
	default:
		return nil, fmt.Errorf("unknown session kind %q: %w", in.Kind, liveerr.ErrInvalidInput)
	}
	participants := make([]uuid.UUID, 0, len(in.ParticipantIDs))
	seen := map[uuid.UUID]bool{providerID: true}
	for _, id := range in.ParticipantIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, id)
	}
	sess := &models.Session{
		Kind:           in.Kind,
		Title:          strings.TrimSpace(in.Title),
		StreamStatus:   models.StreamStatusNotStarted,
		ProviderID:     providerID,
		ParticipantIDs: participants,
		StartsAt:       in.StartsAt.UTC(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("session created", zap.String("session_id", sess.ID.String()), zap.String("kind", string(sess.Kind)))
	return sess, nil
}

// GetSession returns a session visible to its provider and participants.
func (s *Service) GetSession(ctx context.Context, id, userID uuid.UUID) (*models.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.CanJoin(userID) {
		return nil, liveerr.ErrForbidden
	}
	return sess, nil
}

// ProvisionRoom assigns the session's room. Provider only; repeated calls return the same room.
func (s *Service) ProvisionRoom(ctx context.Context, id, userID uuid.UUID) (*models.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsProvider(userID) {
		return nil, liveerr.ErrForbidden
	}
	if sess.StreamStatus == models.StreamStatusEnded {
		return nil, fmt.Errorf("session %s has ended: %w", id, liveerr.ErrRoomUnavailable)
	}
	return sessions.ProvisionRoom(ctx, s.store, id)
}

// IssueJoinTicket mints a room token for the provider or a participant. The
// provider's first ticket provisions the room and takes the session live.
func (s *Service) IssueJoinTicket(ctx context.Context, id, userID uuid.UUID, displayName string) (*JoinTicket, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, s.fail(err)
	}
	if !sess.CanJoin(userID) {
		return nil, s.fail(liveerr.ErrForbidden)
	}
	if sess.StreamStatus == models.StreamStatusEnded {
		return nil, s.fail(fmt.Errorf("session %s has ended: %w", id, liveerr.ErrRoomUnavailable))
	}

	role := auth.RoleParticipant
	if sess.IsProvider(userID) {
		role = auth.RoleProvider
		if sess.RoomName == "" {
			if sess, err = sessions.ProvisionRoom(ctx, s.store, id); err != nil {
				return nil, s.fail(err)
			}
		}
		if sess.StreamStatus == models.StreamStatusNotStarted {
			if sess, err = s.store.SetStreamStatus(ctx, id, models.StreamStatusLive); err != nil {
				return nil, s.fail(err)
			}
			s.log.Info("session live", zap.String("session_id", id.String()))
		}
	}
	if sess.RoomName == "" {
		return nil, s.fail(fmt.Errorf("session %s has no room yet: %w", id, liveerr.ErrRoomUnavailable))
	}

	token, exp, err := s.tokens.Issue(auth.RoomGrant{
		SessionID:   id,
		UserID:      userID,
		Room:        sess.RoomName,
		Role:        role,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, s.fail(err)
	}
	telemetry.Success("join_ticket")
	return &JoinTicket{
		SessionID:   id,
		Room:        sess.RoomName,
		Address:     s.roomAddress(id),
		Token:       token,
		ExpiresAt:   exp,
		Role:        role,
		DisplayName: displayName,
	}, nil
}

func (s *Service) roomAddress(id uuid.UUID) string {
	u, err := url.Parse(s.address)
	if err != nil {
		return s.address
	}
	q := u.Query()
	q.Set("session_id", id.String())
	u.RawQuery = q.Encode()
	return u.String()
}

// EndSession marks the session ENDED and closes its room. Provider only;
// ending twice is a no-op.
func (s *Service) EndSession(ctx context.Context, id, userID uuid.UUID) (*models.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, s.fail(err)
	}
	if !sess.IsProvider(userID) {
		return nil, s.fail(liveerr.ErrForbidden)
	}
	sess, err = s.store.SetStreamStatus(ctx, id, models.StreamStatusEnded)
	if err != nil {
		return nil, s.fail(err)
	}
	if s.rooms != nil {
		s.rooms.CloseSession(id)
	}
	telemetry.Success("end_session")
	s.log.Info("session ended", zap.String("session_id", id.String()))
	return sess, nil
}

func (s *Service) fail(err error) error {
	telemetry.Failure("live", liveerr.CategoryOf(err).String())
	return err
}
