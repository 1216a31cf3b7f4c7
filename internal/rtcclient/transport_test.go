package rtcclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/realtime"
	"github.com/aura-live/backend/internal/room"
	"github.com/aura-live/backend/internal/sessions"
)

// liveRoom runs the realtime websocket endpoint without an SFU.
type liveRoom struct {
	hub         *realtime.Hub
	tokens      *auth.RoomTokenIssuer
	session     *models.Session
	address     string
	provider    uuid.UUID
	participant uuid.UUID
}

func newLiveRoom(t *testing.T) *liveRoom {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	lr := &liveRoom{
		hub:         realtime.NewHub(nil, nil, nil),
		tokens:      auth.NewRoomTokenIssuer("secret", time.Minute),
		provider:    uuid.New(),
		participant: uuid.New(),
	}
	s := &models.Session{Kind: models.SessionKindBooking, ProviderID: lr.provider, ParticipantIDs: []uuid.UUID{lr.participant}}
	require.NoError(t, store.CreateSession(ctx, s))
	s, err := sessions.ProvisionRoom(ctx, store, s.ID)
	require.NoError(t, err)
	lr.session = s

	r := gin.New()
	r.GET("/ws", realtime.ServeWs(lr.hub, nil, lr.tokens, store, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	lr.address = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session_id=" + s.ID.String()
	return lr
}

func (lr *liveRoom) request(t *testing.T, userID uuid.UUID, role string) room.JoinRequest {
	t.Helper()
	tok, _, err := lr.tokens.Issue(auth.RoomGrant{SessionID: lr.session.ID, UserID: userID, Room: lr.session.RoomName, Role: role})
	require.NoError(t, err)
	return room.JoinRequest{SessionID: lr.session.ID, UserID: userID, RoomName: lr.session.RoomName, Address: lr.address, Token: tok}
}

func nextEvent(t *testing.T, tr *Transport) room.Event {
	t.Helper()
	select {
	case ev := <-tr.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no room event")
		return room.Event{}
	}
}

func testConfig() room.Config {
	cfg := room.DefaultConfig()
	cfg.JoinTimeout = 5 * time.Second
	cfg.ConnectRetry = room.Backoff{MaxAttempts: 1, Step: 10 * time.Millisecond, Max: 10 * time.Millisecond, Immediate: true}
	cfg.Reconnect = room.Backoff{MaxAttempts: 1, Step: 10 * time.Millisecond, Max: 10 * time.Millisecond}
	return cfg
}

func TestTransport_WelcomeBecomesConnectedAndRoster(t *testing.T) {
	lr := newLiveRoom(t)
	tr, err := New(Options{}, nil)
	require.NoError(t, err)
	req := lr.request(t, lr.provider, auth.RoleProvider)

	require.NoError(t, tr.Connect(context.Background(), req.Address, req.Token))
	defer tr.Disconnect()

	ev := nextEvent(t, tr)
	assert.Equal(t, room.EventConnected, ev.Kind)
	assert.Equal(t, lr.provider.String(), tr.Identity())
	ev = nextEvent(t, tr)
	assert.Equal(t, room.EventRosterSync, ev.Kind)
	assert.Equal(t, []string{lr.provider.String()}, ev.Identities)
}

func TestTransport_RoomClosedDisconnectsWithRoomUnavailable(t *testing.T) {
	lr := newLiveRoom(t)
	tr, err := New(Options{}, nil)
	require.NoError(t, err)
	req := lr.request(t, lr.participant, auth.RoleParticipant)
	require.NoError(t, tr.Connect(context.Background(), req.Address, req.Token))
	require.Equal(t, room.EventConnected, nextEvent(t, tr).Kind)

	lr.hub.CloseSession(lr.session.ID)

	for {
		ev := nextEvent(t, tr)
		if ev.Kind == room.EventDisconnected {
			assert.ErrorIs(t, ev.Err, liveerr.ErrRoomUnavailable)
			return
		}
	}
}

func TestTransport_RequiresConnection(t *testing.T) {
	tr, err := New(Options{Media: Media{Camera: "camera.ivf"}}, nil)
	require.NoError(t, err)

	_, err = tr.Subscribe("someone", room.TrackInfo{SID: "someone/camera", Kind: room.TrackVideo})
	assert.ErrorIs(t, err, liveerr.ErrNotConnected)
	assert.ErrorIs(t, tr.EnableCamera(context.Background(), true), liveerr.ErrNotConnected)
	assert.NoError(t, tr.Disconnect())
}

func TestTransport_MissingMediaIsNoDevice(t *testing.T) {
	lr := newLiveRoom(t)
	tr, err := New(Options{Media: Media{Camera: t.TempDir() + "/missing.ivf"}}, nil)
	require.NoError(t, err)
	req := lr.request(t, lr.provider, auth.RoleProvider)
	require.NoError(t, tr.Connect(context.Background(), req.Address, req.Token))
	defer tr.Disconnect()
	require.Equal(t, room.EventConnected, nextEvent(t, tr).Kind)

	assert.ErrorIs(t, tr.EnableCamera(context.Background(), true), ErrNoDevice)
	assert.ErrorIs(t, tr.EnableMicrophone(context.Background(), true), ErrNoDevice)
	assert.NoError(t, tr.EnableScreenShare(context.Background(), false))
}

func TestManager_JoinsOverWebsocket(t *testing.T) {
	lr := newLiveRoom(t)
	providerMgr := room.NewManager(Factory(Options{}, nil), testConfig(), nil)
	participantMgr := room.NewManager(Factory(Options{}, nil), testConfig(), nil)
	defer providerMgr.Close()
	defer participantMgr.Close()

	providerConn, err := providerMgr.Join(context.Background(), lr.request(t, lr.provider, auth.RoleProvider))
	require.NoError(t, err)
	assert.Equal(t, room.StateConnected, providerConn.State())
	assert.True(t, providerConn.Degraded(), "no media configured")

	participantConn, err := participantMgr.Join(context.Background(), lr.request(t, lr.participant, auth.RoleParticipant))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := providerConn.Participant(lr.participant.String())
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, ok := participantConn.Participant(lr.provider.String())
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	participantMgr.Leave(lr.session.ID, lr.participant)
	assert.Equal(t, room.StateDisconnected, participantConn.State())

	assert.Eventually(t, func() bool {
		_, ok := providerConn.Participant(lr.participant.String())
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, providerConn.Roster(), 1)
}

func TestManager_RejectsTokenForOtherRoom(t *testing.T) {
	lr := newLiveRoom(t)
	mgr := room.NewManager(Factory(Options{}, nil), testConfig(), nil)
	defer mgr.Close()
	req := lr.request(t, lr.participant, auth.RoleParticipant)
	tok, _, err := lr.tokens.Issue(auth.RoomGrant{SessionID: lr.session.ID, UserID: lr.participant, Room: "room-elsewhere", Role: auth.RoleParticipant})
	require.NoError(t, err)
	req.Token = tok

	_, err = mgr.Join(context.Background(), req)
	assert.ErrorIs(t, err, liveerr.ErrInvalidCredential)
}
