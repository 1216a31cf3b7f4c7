package engagement

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
	r.POST("/sessions/:id/comments", h.PostComment)
	r.GET("/sessions/:id/comments", h.ListComments)
	r.POST("/sessions/:id/likes", h.ToggleLike)
	r.POST("/sessions/:id/bookmarks", h.ToggleBookmark)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_CommentRoundTrip(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, f.participant)
	base := "/sessions/" + f.sessionID.String()

	w := do(r, http.MethodPost, base+"/comments", `{"text":"first"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	w = do(r, http.MethodPost, base+"/comments", `{"text":"second"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodGet, base+"/comments?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Comments []struct {
				Text string `json:"text"`
			} `json:"comments"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data.Comments, 2)
	assert.Equal(t, "first", body.Data.Comments[0].Text)
	assert.Equal(t, "second", body.Data.Comments[1].Text)
}

func TestHandler_InvalidComment(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, f.participant)

	w := do(r, http.MethodPost, "/sessions/"+f.sessionID.String()+"/comments", `{"text":"   "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(r, http.MethodGet, "/sessions/"+f.sessionID.String()+"/comments?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_OutsiderCannotComment(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, uuid.New())

	w := do(r, http.MethodPost, "/sessions/"+f.sessionID.String()+"/comments", `{"text":"hi"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_ToggleLike(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, f.participant)

	w := do(r, http.MethodPost, "/sessions/"+f.sessionID.String()+"/likes", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active":true`)
	assert.Contains(t, w.Body.String(), `"count":1`)
}
