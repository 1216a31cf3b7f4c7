package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/models"
)

// MemoryStore is an in-process Store used by tests and the probe tooling.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*models.Session)}
}

func (m *MemoryStore) CreateSession(ctx context.Context, s *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.StreamStatus == "" {
		s.StreamStatus = models.StreamStatusNotStarted
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, liveerr.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) PatchSession(ctx context.Context, id uuid.UUID, patch models.SessionPatch) (*models.Session, error) {
	return m.update(ctx, id, func(s *models.Session) error { return applyPatch(s, patch) })
}

func (m *MemoryStore) SetStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus) (*models.Session, error) {
	return m.update(ctx, id, func(s *models.Session) error { return applyStatus(s, status) })
}

func (m *MemoryStore) AttachRecordingRef(ctx context.Context, id uuid.UUID, patch models.RecordingPatch) (*models.Session, error) {
	return m.update(ctx, id, func(s *models.Session) error {
		s.Recording = s.Recording.Merge(patch)
		s.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (m *MemoryStore) update(ctx context.Context, id uuid.UUID, fn func(*models.Session) error) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[id]
	if !ok {
		return nil, liveerr.ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.sessions[id] = next
	return next.Clone(), nil
}
