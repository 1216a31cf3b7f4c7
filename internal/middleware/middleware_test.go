package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/auth"
)

func newRouter(jwtService *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	api := r.Group("", JWT(jwtService))
	api.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.MustGet(ContextUserID).(uuid.UUID).String())
	})
	api.POST("/sessions", RequireRole(AccountRoleProvider, AccountRoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return r
}

func request(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)
	userID := uuid.New()
	token, err := svc.Generate(userID, "a@example.com", AccountRoleMember)
	require.NoError(t, err)

	w := request(r, http.MethodGet, "/me", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID.String(), w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, request(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(r, http.MethodGet, "/me", "garbage").Code)

	other, err := auth.NewJWTService("other", 1).Generate(userID, "", AccountRoleMember)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, request(r, http.MethodGet, "/me", other).Code)
}

func TestRequireRole(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)

	member, err := svc.Generate(uuid.New(), "", AccountRoleMember)
	require.NoError(t, err)
	provider, err := svc.Generate(uuid.New(), "", AccountRoleProvider)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, request(r, http.MethodPost, "/sessions", member).Code)
	assert.Equal(t, http.StatusCreated, request(r, http.MethodPost, "/sessions", provider).Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://localhost:3000"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
