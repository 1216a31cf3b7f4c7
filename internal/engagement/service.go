// Package engagement is the comment and reaction side-channel of a live
// session. It only references sessions by id.
package engagement

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/realtime"
)

const (
	// MaxCommentLength is counted in characters, not bytes.
	MaxCommentLength = 500
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Store persists comments and reactions.
type Store interface {
	InsertComment(ctx context.Context, c *models.Comment) error
	// RecentComments returns up to limit comments, newest first.
	RecentComments(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Comment, error)
	// ToggleReaction flips the user's reaction and reports whether it is now set.
	ToggleReaction(ctx context.Context, sessionID, userID uuid.UUID, kind models.ReactionKind) (bool, error)
	CountReactions(ctx context.Context, sessionID uuid.UUID, kind models.ReactionKind) (int, error)
}

// SessionLookup authorizes callers against the session roster.
type SessionLookup interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Broadcaster relays new comments to the session's realtime room.
type Broadcaster interface {
	Publish(sessionID uuid.UUID, event string, payload interface{})
}

// Service validates and records engagement.
type Service struct {
	store    Store
	sessions SessionLookup
	relay    Broadcaster
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates an engagement service. relay may be nil.
func NewService(store Store, sessions SessionLookup, relay Broadcaster, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, sessions: sessions, relay: relay, log: log, now: time.Now}
}

// ValidateComment trims text and enforces the length bounds.
func ValidateComment(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("comment is empty: %w", liveerr.ErrInvalidComment)
	}
	if n := utf8.RuneCountInString(text); n > MaxCommentLength {
		return "", fmt.Errorf("comment has %d characters, limit is %d: %w", n, MaxCommentLength, liveerr.ErrInvalidComment)
	}
	return text, nil
}

func (s *Service) authorize(ctx context.Context, sessionID, userID uuid.UUID) error {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.CanJoin(userID) {
		return liveerr.ErrForbidden
	}
	return nil
}

// PostComment records a comment from the provider or a participant and relays it to the room.
func (s *Service) PostComment(ctx context.Context, sessionID, authorID uuid.UUID, text string) (*models.Comment, error) {
	text, err := ValidateComment(text)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, sessionID, authorID); err != nil {
		return nil, err
	}
	c := &models.Comment{
		SessionID: sessionID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertComment(ctx, c); err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	if s.relay != nil {
		s.relay.Publish(sessionID, realtime.EventComment, c)
	}
	s.log.Debug("comment posted", zap.String("session_id", sessionID.String()), zap.String("user_id", authorID.String()))
	return c, nil
}

// ListComments returns the latest limit comments in chronological order.
func (s *Service) ListComments(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Comment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	list, err := s.store.RecentComments(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

// ToggleLike flips the caller's like on the session.
func (s *Service) ToggleLike(ctx context.Context, sessionID, userID uuid.UUID) (models.ReactionSummary, error) {
	return s.toggle(ctx, sessionID, userID, models.ReactionLike)
}

// ToggleBookmark flips the caller's bookmark on the session.
func (s *Service) ToggleBookmark(ctx context.Context, sessionID, userID uuid.UUID) (models.ReactionSummary, error) {
	return s.toggle(ctx, sessionID, userID, models.ReactionBookmark)
}

func (s *Service) toggle(ctx context.Context, sessionID, userID uuid.UUID, kind models.ReactionKind) (models.ReactionSummary, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return models.ReactionSummary{}, err
	}
	active, err := s.store.ToggleReaction(ctx, sessionID, userID, kind)
	if err != nil {
		return models.ReactionSummary{}, fmt.Errorf("toggle %s: %w", kind, err)
	}
	count, err := s.store.CountReactions(ctx, sessionID, kind)
	if err != nil {
		return models.ReactionSummary{}, fmt.Errorf("count %s: %w", kind, err)
	}
	return models.ReactionSummary{Kind: kind, Active: active, Count: count}, nil
}
