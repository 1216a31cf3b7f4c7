package live

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/sessions"
)

type closeRecorder struct {
	closed []uuid.UUID
}

func (r *closeRecorder) CloseSession(id uuid.UUID) { r.closed = append(r.closed, id) }

type fixture struct {
	svc         *Service
	store       *sessions.MemoryStore
	tokens      *auth.RoomTokenIssuer
	rooms       *closeRecorder
	provider    uuid.UUID
	participant uuid.UUID
	session     *models.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:       sessions.NewMemoryStore(),
		tokens:      auth.NewRoomTokenIssuer("room-secret", time.Minute),
		rooms:       &closeRecorder{},
		provider:    uuid.New(),
		participant: uuid.New(),
	}
	f.svc = NewService(f.store, f.tokens, f.rooms, "wss://live.example.com/ws", nil)
	s, err := f.svc.CreateSession(context.Background(), f.provider, CreateInput{
		Kind:           models.SessionKindBooking,
		Title:          " Consultation ",
		ParticipantIDs: []uuid.UUID{f.participant},
	})
	require.NoError(t, err)
	f.session = s
	return f
}

func TestCreateSession_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "Consultation", f.session.Title)
	assert.Equal(t, models.StreamStatusNotStarted, f.session.StreamStatus)

	_, err := f.svc.CreateSession(ctx, f.provider, CreateInput{Kind: models.SessionKindBooking})
	assert.ErrorIs(t, err, liveerr.ErrInvalidInput)

	_, err = f.svc.CreateSession(ctx, f.provider, CreateInput{Kind: "webinar"})
	assert.ErrorIs(t, err, liveerr.ErrInvalidInput)

	a, b := uuid.New(), uuid.New()
	ev, err := f.svc.CreateSession(ctx, f.provider, CreateInput{
		Kind:           models.SessionKindEvent,
		ParticipantIDs: []uuid.UUID{a, b, a, f.provider},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ev.ParticipantIDs)
}

func TestIssueJoinTicket_ProviderTakesSessionLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.IssueJoinTicket(ctx, f.session.ID, f.provider, "Dr. Lee")
	require.NoError(t, err)
	assert.Equal(t, sessions.RoomNameFor(f.session.ID), ticket.Room)
	assert.Equal(t, auth.RoleProvider, ticket.Role)
	assert.Equal(t, "Dr. Lee", ticket.DisplayName)

	u, err := url.Parse(ticket.Address)
	require.NoError(t, err)
	assert.Equal(t, "live.example.com", u.Host)
	assert.Equal(t, f.session.ID.String(), u.Query().Get("session_id"))

	claims, err := f.tokens.Verify(ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, f.session.ID, claims.SessionID)
	assert.Equal(t, ticket.Room, claims.Room)
	sub, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, f.provider, sub)

	s, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusLive, s.StreamStatus)
}

func TestIssueJoinTicket_Participant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.IssueJoinTicket(ctx, f.session.ID, f.participant, "")
	assert.ErrorIs(t, err, liveerr.ErrRoomUnavailable, "no room before the provider arrives")

	_, err = f.svc.IssueJoinTicket(ctx, f.session.ID, f.provider, "")
	require.NoError(t, err)

	ticket, err := f.svc.IssueJoinTicket(ctx, f.session.ID, f.participant, "Sam")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleParticipant, ticket.Role)

	_, err = f.svc.IssueJoinTicket(ctx, f.session.ID, uuid.New(), "")
	assert.ErrorIs(t, err, liveerr.ErrForbidden)

	_, err = f.svc.IssueJoinTicket(ctx, uuid.New(), f.provider, "")
	assert.ErrorIs(t, err, liveerr.ErrNotFound)
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.IssueJoinTicket(ctx, f.session.ID, f.provider, "")
	require.NoError(t, err)

	_, err = f.svc.EndSession(ctx, f.session.ID, f.participant)
	assert.ErrorIs(t, err, liveerr.ErrForbidden)
	assert.Empty(t, f.rooms.closed)

	s, err := f.svc.EndSession(ctx, f.session.ID, f.provider)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusEnded, s.StreamStatus)
	assert.Equal(t, []uuid.UUID{f.session.ID}, f.rooms.closed)

	_, err = f.svc.EndSession(ctx, f.session.ID, f.provider)
	require.NoError(t, err)

	_, err = f.svc.IssueJoinTicket(ctx, f.session.ID, f.participant, "")
	assert.ErrorIs(t, err, liveerr.ErrRoomUnavailable)
	_, err = f.svc.IssueJoinTicket(ctx, f.session.ID, f.provider, "")
	assert.ErrorIs(t, err, liveerr.ErrRoomUnavailable)
	_, err = f.svc.ProvisionRoom(ctx, f.session.ID, f.provider)
	assert.ErrorIs(t, err, liveerr.ErrRoomUnavailable)
}

func TestProvisionRoom_ProviderOnlyAndStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ProvisionRoom(ctx, f.session.ID, f.participant)
	assert.ErrorIs(t, err, liveerr.ErrForbidden)

	first, err := f.svc.ProvisionRoom(ctx, f.session.ID, f.provider)
	require.NoError(t, err)
	second, err := f.svc.ProvisionRoom(ctx, f.session.ID, f.provider)
	require.NoError(t, err)
	assert.Equal(t, first.RoomName, second.RoomName)
	assert.Equal(t, models.StreamStatusNotStarted, second.StreamStatus)
}
