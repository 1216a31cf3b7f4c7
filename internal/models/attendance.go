package models

import (
	"time"

	"github.com/google/uuid"
)

// Attendance is one stay of a user in a session's room, from first connection to last.
type Attendance struct {
	ID           uuid.UUID  `json:"id"`
	SessionID    uuid.UUID  `json:"session_id"`
	UserID       uuid.UUID  `json:"user_id"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
}

// AttendanceSummary aggregates closed stays for a session.
type AttendanceSummary struct {
	TotalWatchSeconds int64 `json:"total_watch_seconds"`
	DistinctUsers     int   `json:"distinct_users"`
}
