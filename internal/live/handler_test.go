package live

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/backend/internal/middleware"
)

func newRouter(f *fixture, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	})
	r.POST("/sessions", h.Create)
	r.GET("/sessions/:id", h.Get)
	r.POST("/sessions/:id/room", h.ProvisionRoom)
	r.POST("/sessions/:id/join", h.Join)
	r.POST("/sessions/:id/end", h.End)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateAndJoin(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()
	r := newRouter(f, f.provider)

	w := do(r, http.MethodPost, "/sessions", `{"kind":"event","title":"Town hall","participant_ids":["`+other.String()+`"]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Data struct {
			ID           uuid.UUID `json:"id"`
			StreamStatus string    `json:"stream_status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "NOT_STARTED", created.Data.StreamStatus)

	w = do(r, http.MethodPost, "/sessions/"+created.Data.ID.String()+"/join", `{"display_name":"Host"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var joined struct {
		Data JoinTicket `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &joined))
	assert.NotEmpty(t, joined.Data.Token)
	assert.Equal(t, "Host", joined.Data.DisplayName)
	assert.Contains(t, joined.Data.Address, "session_id="+created.Data.ID.String())

	w = do(newRouter(f, other), http.MethodPost, "/sessions/"+created.Data.ID.String()+"/join", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_Errors(t *testing.T) {
	f := newFixture(t)
	base := "/sessions/" + f.session.ID.String()

	w := do(newRouter(f, f.provider), http.MethodGet, "/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(newRouter(f, uuid.New()), http.MethodGet, base, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(newRouter(f, f.participant), http.MethodPost, base+"/end", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(newRouter(f, f.provider), http.MethodPost, "/sessions", `{"kind":"booking"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(newRouter(f, f.provider), http.MethodPost, base+"/end", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = do(newRouter(f, f.participant), http.MethodPost, base+"/join", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
