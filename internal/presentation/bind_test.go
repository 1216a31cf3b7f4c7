package presentation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/backend/internal/presentation"
	"github.com/aura-live/backend/internal/room"
	"github.com/aura-live/backend/internal/room/roomtest"
)

func TestBindFollowsRoster(t *testing.T) {
	f := roomtest.NewFactory(nil)
	cfg := room.DefaultConfig()
	cfg.JoinTimeout = time.Second
	m := room.NewManager(f.New, cfg, nil)
	sessionID := uuid.New()
	conn, err := m.Join(context.Background(), room.JoinRequest{
		SessionID: sessionID,
		UserID:    uuid.New(),
		RoomName:  "room-" + sessionID.String(),
		Address:   "ws://rooms.test/ws",
		Token:     "token",
	})
	require.NoError(t, err)

	router, stop := presentation.Bind(conn)
	defer stop()
	tr := f.Last()

	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "A"})
	require.Eventually(t, func() bool { return router.Focus("A") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "A", router.Focused())

	tr.Emit(room.Event{Kind: room.EventParticipantLeft, Identity: "A"})
	require.Eventually(t, func() bool { return router.Focused() == "" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, presentation.ModeSingle, router.Mode())

	conn.Leave()
	assert.Equal(t, presentation.View{Mode: presentation.ModeSingle, Primary: conn.Identity()}, router.View())
}
