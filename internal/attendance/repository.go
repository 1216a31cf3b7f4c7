package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-live/backend/internal/models"
)

// Repository handles session_attendance rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when a user's first connection opens.
func (r *Repository) LogJoin(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_attendance (session_id, user_id, joined_at) VALUES ($1, $2, $3)`,
		sessionID, userID, at)
	return err
}

// LogLeave updates the most recent open stay for this user in this session.
func (r *Repository) LogLeave(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE session_attendance a SET left_at = $3, watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3 - a.joined_at))::BIGINT)
		 FROM (SELECT id FROM session_attendance WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE a.id = sub.id`,
		sessionID, userID, at)
	return err
}

// Summary returns total watch time and distinct user count over closed stays.
func (r *Repository) Summary(ctx context.Context, sessionID uuid.UUID) (models.AttendanceSummary, error) {
	const q = `SELECT COALESCE(SUM(watch_seconds), 0), COUNT(DISTINCT user_id)
		FROM session_attendance WHERE session_id = $1 AND left_at IS NOT NULL`
	var sum models.AttendanceSummary
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&sum.TotalWatchSeconds, &sum.DistinctUsers)
	return sum, err
}

// List returns stays for a session, most recent first.
func (r *Repository) List(ctx context.Context, sessionID uuid.UUID) ([]models.Attendance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, user_id, joined_at, left_at, watch_seconds
		 FROM session_attendance WHERE session_id = $1 ORDER BY joined_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Attendance
	for rows.Next() {
		var a models.Attendance
		if err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &a.JoinedAt, &a.LeftAt, &a.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
