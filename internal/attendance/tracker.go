// Package attendance records who was in a session's room and for how long.
package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/models"
)

const writeTimeout = 5 * time.Second

// Store persists attendance stays.
type Store interface {
	LogJoin(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error
	// LogLeave closes the user's most recent open stay.
	LogLeave(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error
	List(ctx context.Context, sessionID uuid.UUID) ([]models.Attendance, error)
	Summary(ctx context.Context, sessionID uuid.UUID) (models.AttendanceSummary, error)
}

// Tracker turns realtime presence changes into attendance rows.
type Tracker struct {
	store Store
	log   *zap.Logger
}

func NewTracker(store Store, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{store: store, log: log}
}

// OnPresence matches realtime.PresenceHandler. Storage errors are logged.
func (t *Tracker) OnPresence(sessionID, userID uuid.UUID, joined bool, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	var err error
	if joined {
		err = t.store.LogJoin(ctx, sessionID, userID, at)
	} else {
		err = t.store.LogLeave(ctx, sessionID, userID, at)
	}
	if err != nil {
		t.log.Warn("attendance write failed",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()),
			zap.Bool("joined", joined),
			zap.Error(err))
	}
}
