package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/live"
)

// apiClient calls the live API with a user bearer token.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (a *apiClient) post(ctx context.Context, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("POST %s: %s: undecodable body: %w", path, resp.Status, err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return fmt.Errorf("POST %s: %s: %s", path, resp.Status, env.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// joinTicket requests a room ticket for the session.
func (a *apiClient) joinTicket(ctx context.Context, sessionID uuid.UUID, displayName string) (*live.JoinTicket, error) {
	var t live.JoinTicket
	if err := a.post(ctx, "/sessions/"+sessionID.String()+"/join", live.JoinRequest{DisplayName: displayName}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// endSession marks the session ended.
func (a *apiClient) endSession(ctx context.Context, sessionID uuid.UUID) error {
	return a.post(ctx, "/sessions/"+sessionID.String()+"/end", nil, nil)
}

// ticketUser reads the subject of a room token. The server verifies the
// signature; the probe only needs to know who it joins as.
func ticketUser(token string) (uuid.UUID, error) {
	var claims auth.RoomClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return uuid.Nil, fmt.Errorf("parse room token: %w", err)
	}
	return claims.UserID()
}
