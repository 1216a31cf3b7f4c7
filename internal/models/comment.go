package models

import (
	"time"

	"github.com/google/uuid"
)

// Comment is a chat comment posted against a live session.
type Comment struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionKind is a per-user toggle on a session.
type ReactionKind string

const (
	ReactionLike     ReactionKind = "like"
	ReactionBookmark ReactionKind = "bookmark"
)

// ReactionSummary reports the caller's state and the total count for one reaction kind.
type ReactionSummary struct {
	Kind   ReactionKind `json:"kind"`
	Active bool         `json:"active"`
	Count  int          `json:"count"`
}
