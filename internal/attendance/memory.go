package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-live/backend/internal/models"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.Mutex
	stays map[uuid.UUID][]models.Attendance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stays: make(map[uuid.UUID][]models.Attendance)}
}

func (m *MemoryStore) LogJoin(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stays[sessionID] = append(m.stays[sessionID], models.Attendance{
		ID:        uuid.New(),
		SessionID: sessionID,
		UserID:    userID,
		JoinedAt:  at.UTC(),
	})
	return nil
}

func (m *MemoryStore) LogLeave(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stays := m.stays[sessionID]
	for i := len(stays) - 1; i >= 0; i-- {
		s := &stays[i]
		if s.UserID != userID || s.LeftAt != nil {
			continue
		}
		left := at.UTC()
		s.LeftAt = &left
		if d := left.Sub(s.JoinedAt); d > 0 {
			s.WatchSeconds = int64(d / time.Second)
		}
		return nil
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context, sessionID uuid.UUID) ([]models.Attendance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	out := append([]models.Attendance(nil), m.stays[sessionID]...)
	m.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	return out, nil
}

func (m *MemoryStore) Summary(ctx context.Context, sessionID uuid.UUID) (models.AttendanceSummary, error) {
	if err := ctx.Err(); err != nil {
		return models.AttendanceSummary{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum models.AttendanceSummary
	users := make(map[uuid.UUID]bool)
	for _, s := range m.stays[sessionID] {
		if s.LeftAt == nil {
			continue
		}
		sum.TotalWatchSeconds += s.WatchSeconds
		users[s.UserID] = true
	}
	sum.DistinctUsers = len(users)
	return sum, nil
}
