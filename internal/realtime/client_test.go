package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/sessions"
)

type wsFixture struct {
	store       *sessions.MemoryStore
	tokens      *auth.RoomTokenIssuer
	hub         *Hub
	server      *httptest.Server
	session     *models.Session
	provider    uuid.UUID
	participant uuid.UUID
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &wsFixture{
		store:       sessions.NewMemoryStore(),
		tokens:      auth.NewRoomTokenIssuer("test-secret", time.Minute),
		hub:         NewHub(nil, nil, nil),
		provider:    uuid.New(),
		participant: uuid.New(),
	}
	ctx := context.Background()
	s := &models.Session{Kind: models.SessionKindBooking, ProviderID: f.provider, ParticipantIDs: []uuid.UUID{f.participant}}
	require.NoError(t, f.store.CreateSession(ctx, s))
	s, err := sessions.ProvisionRoom(ctx, f.store, s.ID)
	require.NoError(t, err)
	_, err = f.store.SetStreamStatus(ctx, s.ID, models.StreamStatusLive)
	require.NoError(t, err)
	f.session = s

	r := gin.New()
	r.GET("/ws", ServeWs(f.hub, nil, f.tokens, f.store, nil))
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *wsFixture) token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(auth.RoomGrant{SessionID: f.session.ID, UserID: userID, Room: f.session.RoomName, Role: role})
	require.NoError(t, err)
	return tok
}

func (f *wsFixture) dial(sessionID uuid.UUID, token string) (*websocket.Conn, *http.Response, error) {
	q := url.Values{"session_id": {sessionID.String()}, "token": {token}}
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?" + q.Encode()
	return websocket.DefaultDialer.Dial(u, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServeWs_ConnectedCarriesRoster(t *testing.T) {
	f := newWSFixture(t)

	providerConn, _, err := f.dial(f.session.ID, f.token(t, f.provider, auth.RoleProvider))
	require.NoError(t, err)
	defer providerConn.Close()

	msg := readMessage(t, providerConn)
	require.Equal(t, EventConnected, msg.Event)
	var connected ConnectedPayload
	require.NoError(t, json.Unmarshal(msg.Data, &connected))
	assert.Equal(t, f.provider.String(), connected.Identity)
	assert.Equal(t, f.session.RoomName, connected.Room)
	require.Len(t, connected.Participants, 1)
	assert.Equal(t, auth.RoleProvider, connected.Participants[0].Role)
	assert.Empty(t, connected.Tracks)
	assert.Equal(t, EventParticipantJoined, readMessage(t, providerConn).Event)

	participantConn, _, err := f.dial(f.session.ID, f.token(t, f.participant, auth.RoleParticipant))
	require.NoError(t, err)
	defer participantConn.Close()

	msg = readMessage(t, providerConn)
	assert.Equal(t, EventParticipantJoined, msg.Event)
	var joined ParticipantPayload
	require.NoError(t, json.Unmarshal(msg.Data, &joined))
	assert.Equal(t, f.participant.String(), joined.Identity)
}

func TestServeWs_RejectsEndedSession(t *testing.T) {
	f := newWSFixture(t)
	token := f.token(t, f.participant, auth.RoleParticipant)
	_, err := f.store.SetStreamStatus(context.Background(), f.session.ID, models.StreamStatusEnded)
	require.NoError(t, err)

	_, resp, err := f.dial(f.session.ID, token)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestServeWs_RejectsTokenForAnotherSession(t *testing.T) {
	f := newWSFixture(t)
	token := f.token(t, f.participant, auth.RoleParticipant)

	_, resp, err := f.dial(uuid.New(), token)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWs_RejectsGarbageToken(t *testing.T) {
	f := newWSFixture(t)

	_, resp, err := f.dial(f.session.ID, "not-a-token")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWs_RoomClosedDisconnects(t *testing.T) {
	f := newWSFixture(t)

	conn, _, err := f.dial(f.session.ID, f.token(t, f.participant, auth.RoleParticipant))
	require.NoError(t, err)
	defer conn.Close()
	readMessage(t, conn)
	readMessage(t, conn)

	f.hub.CloseSession(f.session.ID)

	assert.Equal(t, EventRoomClosed, readMessage(t, conn).Event)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
