package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_LiveDefaults(t *testing.T) {
	t.Setenv("LIVE_JOIN_TIMEOUT", "")
	t.Setenv("LIVE_RECONNECT_ATTEMPTS", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.Live.JoinTimeout)
	assert.Equal(t, 3, cfg.Live.ReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Live.ReconnectBase)
	assert.Equal(t, 10*time.Second, cfg.Live.ReconnectMax)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LIVE_JOIN_TIMEOUT", "45s")
	t.Setenv("LIVE_ROOM_TOKEN_TTL", "120")
	t.Setenv("WEBRTC_ICE_URLS", "stun:a:3478, turn:b:3478 ,")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Live.JoinTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Live.RoomTokenTTL)
	assert.Equal(t, []string{"stun:a:3478", "turn:b:3478"}, cfg.WebRTC.ICEUrls)
}

func TestLoad_RejectsZeroReconnectAttempts(t *testing.T) {
	t.Setenv("LIVE_RECONNECT_ATTEMPTS", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RoomTokenSecretSeparateFromJWT(t *testing.T) {
	t.Setenv("JWT_SECRET", "api-secret")
	t.Setenv("LIVE_ROOM_TOKEN_SECRET", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.NotEqual(t, cfg.JWT.Secret, cfg.Live.RoomTokenSecret)

	t.Setenv("LIVE_ROOM_TOKEN_SECRET", "api-secret")
	_, err = Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "1", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:1/d?sslmode=disable", c.DSN())
	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}
