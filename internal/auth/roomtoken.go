package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Room roles.
const (
	RoleProvider    = "provider"
	RoleParticipant = "participant"
)

// ErrExpiredToken is returned for a well-formed room token past its expiry.
var ErrExpiredToken = errors.New("room token expired")

const roomTokenAudience = "live-room"

// RoomClaims grant one user access to one session's room.
type RoomClaims struct {
	SessionID   uuid.UUID `json:"session_id"`
	Room        string    `json:"room"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject as a user id.
func (c *RoomClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// RoomGrant describes the access a room token carries.
type RoomGrant struct {
	SessionID   uuid.UUID
	UserID      uuid.UUID
	Room        string
	Role        string
	DisplayName string
}

// RoomTokenIssuer mints and verifies short-lived room access tokens.
type RoomTokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewRoomTokenIssuer(secret string, ttl time.Duration) *RoomTokenIssuer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RoomTokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL is the lifetime of issued tokens.
func (i *RoomTokenIssuer) TTL() time.Duration { return i.ttl }

// Issue mints a token for grant and returns it with its expiry.
func (i *RoomTokenIssuer) Issue(grant RoomGrant) (string, time.Time, error) {
	if grant.SessionID == uuid.Nil || grant.UserID == uuid.Nil || grant.Room == "" {
		return "", time.Time{}, fmt.Errorf("incomplete room grant")
	}
	now := i.now()
	exp := now.Add(i.ttl)
	claims := RoomClaims{
		SessionID:   grant.SessionID,
		Room:        grant.Room,
		Role:        grant.Role,
		DisplayName: grant.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   grant.UserID.String(),
			Audience:  jwt.ClaimStrings{roomTokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign room token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses a room token. Expired tokens yield ErrExpiredToken, anything
// else unusable yields ErrInvalidToken.
func (i *RoomTokenIssuer) Verify(token string) (*RoomClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &RoomClaims{}, hmacKey(i.secret),
		jwt.WithAudience(roomTokenAudience),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*RoomClaims)
	if !ok || !parsed.Valid || claims.SessionID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
