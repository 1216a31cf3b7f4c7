package attendance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/backend/internal/middleware"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/sessions"
)

func TestTracker_RecordsStays(t *testing.T) {
	store := NewMemoryStore()
	tr := NewTracker(store, nil)
	sessionID, a, b := uuid.New(), uuid.New(), uuid.New()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tr.OnPresence(sessionID, a, true, t0)
	tr.OnPresence(sessionID, b, true, t0.Add(10*time.Second))
	tr.OnPresence(sessionID, a, false, t0.Add(90*time.Second))
	tr.OnPresence(sessionID, a, true, t0.Add(120*time.Second))
	tr.OnPresence(sessionID, a, false, t0.Add(150*time.Second))

	list, err := store.List(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, a, list[0].UserID)
	assert.Equal(t, int64(30), list[0].WatchSeconds)
	assert.Nil(t, list[1].LeftAt, "b is still in the room")

	sum, err := store.Summary(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceSummary{TotalWatchSeconds: 120, DistinctUsers: 1}, sum)
}

func TestTracker_LeaveWithoutJoinIsIgnored(t *testing.T) {
	store := NewMemoryStore()
	tr := NewTracker(store, nil)
	sessionID := uuid.New()

	tr.OnPresence(sessionID, uuid.New(), false, time.Now())

	list, err := store.List(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHandler_ProviderOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ss := sessions.NewMemoryStore()
	provider, participant := uuid.New(), uuid.New()
	s := &models.Session{Kind: models.SessionKindEvent, ProviderID: provider, ParticipantIDs: []uuid.UUID{participant}}
	require.NoError(t, ss.CreateSession(context.Background(), s))
	store := NewMemoryStore()
	require.NoError(t, store.LogJoin(context.Background(), s.ID, participant, time.Now()))
	h := NewHandler(store, ss)

	serve := func(userID uuid.UUID) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(func(c *gin.Context) { c.Set(middleware.ContextUserID, userID) })
		r.GET("/sessions/:id/attendees", h.GetAttendees)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+s.ID.String()+"/attendees", nil))
		return w
	}

	w := serve(provider)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), participant.String())

	assert.Equal(t, http.StatusForbidden, serve(participant).Code)
}
