package engagement

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-live/backend/internal/models"
)

type reactionKey struct {
	session uuid.UUID
	user    uuid.UUID
	kind    models.ReactionKind
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	comments  map[uuid.UUID][]models.Comment
	reactions map[reactionKey]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		comments:  make(map[uuid.UUID][]models.Comment),
		reactions: make(map[reactionKey]bool),
	}
}

func (m *MemoryStore) InsertComment(ctx context.Context, c *models.Comment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[c.SessionID] = append(m.comments[c.SessionID], *c)
	return nil
}

func (m *MemoryStore) RecentComments(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	all := append([]models.Comment(nil), m.comments[sessionID]...)
	m.mu.RUnlock()
	// Stable on insertion order so equal timestamps keep posting order.
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	out := make([]models.Comment, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *MemoryStore) ToggleReaction(ctx context.Context, sessionID, userID uuid.UUID, kind models.ReactionKind) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := reactionKey{sessionID, userID, kind}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reactions[k] {
		delete(m.reactions, k)
		return false, nil
	}
	m.reactions[k] = true
	return true, nil
}

func (m *MemoryStore) CountReactions(ctx context.Context, sessionID uuid.UUID, kind models.ReactionKind) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.reactions {
		if k.session == sessionID && k.kind == kind {
			n++
		}
	}
	return n, nil
}
