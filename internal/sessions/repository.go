package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/models"
)

const sessionColumns = `id, kind, title, COALESCE(room_name,''), stream_status, provider_id,
	COALESCE(recording_external_id,''), COALESCE(recording_url,''), recording_url_pending, COALESCE(recording_storage_key,''),
	recording_started_at, recording_stopped_at, starts_at, created_at, updated_at`

// Repository is the PostgreSQL-backed Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CreateSession inserts a booking/event with its participants.
func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	if s.StreamStatus == "" {
		s.StreamStatus = models.StreamStatusNotStarted
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `INSERT INTO live_sessions (id, kind, title, room_name, stream_status, provider_id, starts_at)
		VALUES (gen_random_uuid(), $1, $2, NULLIF($3,''), $4, $5, $6)
		RETURNING id, created_at, updated_at`
	if err := tx.QueryRow(ctx, q, s.Kind, s.Title, s.RoomName, s.StreamStatus, s.ProviderID, s.StartsAt).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := replaceParticipants(ctx, tx, s.ID, s.ParticipantIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetSession returns a session by ID.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return getSession(ctx, r.pool, id, false)
}

// PatchSession updates title, starts_at, participants and assigns the room name once.
func (r *Repository) PatchSession(ctx context.Context, id uuid.UUID, patch models.SessionPatch) (*models.Session, error) {
	return r.update(ctx, id, func(ctx context.Context, tx pgx.Tx, s *models.Session) error {
		if err := applyPatch(s, patch); err != nil {
			return err
		}
		const q = `UPDATE live_sessions SET title = $1, room_name = NULLIF($2,''), starts_at = $3, updated_at = NOW() WHERE id = $4`
		if _, err := tx.Exec(ctx, q, s.Title, s.RoomName, s.StartsAt, id); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if patch.ParticipantIDs != nil {
			return replaceParticipants(ctx, tx, id, s.ParticipantIDs)
		}
		return nil
	})
}

// SetStreamStatus moves the stream status forward; backward moves are rejected.
func (r *Repository) SetStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus) (*models.Session, error) {
	return r.update(ctx, id, func(ctx context.Context, tx pgx.Tx, s *models.Session) error {
		if err := applyStatus(s, status); err != nil {
			return err
		}
		const q = `UPDATE live_sessions SET stream_status = $1, updated_at = NOW() WHERE id = $2`
		_, err := tx.Exec(ctx, q, s.StreamStatus, id)
		return err
	})
}

// AttachRecordingRef merges a partial recording pointer under a row lock.
func (r *Repository) AttachRecordingRef(ctx context.Context, id uuid.UUID, patch models.RecordingPatch) (*models.Session, error) {
	return r.update(ctx, id, func(ctx context.Context, tx pgx.Tx, s *models.Session) error {
		s.Recording = s.Recording.Merge(patch)
		rec := s.Recording
		const q = `UPDATE live_sessions SET recording_external_id = NULLIF($1,''), recording_url = NULLIF($2,''),
			recording_url_pending = $3, recording_storage_key = NULLIF($4,''), recording_started_at = $5,
			recording_stopped_at = $6, updated_at = NOW() WHERE id = $7`
		_, err := tx.Exec(ctx, q, rec.ExternalID, rec.URL, rec.URLPending, rec.StorageKey, rec.StartedAt, rec.StoppedAt, id)
		return err
	})
}

func (r *Repository) update(ctx context.Context, id uuid.UUID, fn func(context.Context, pgx.Tx, *models.Session) error) (*models.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := getSession(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, tx, s); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return getSession(ctx, r.pool, id, false)
}

func getSession(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var s models.Session
	rec := &s.Recording
	err := q.QueryRow(ctx, query, id).Scan(&s.ID, &s.Kind, &s.Title, &s.RoomName, &s.StreamStatus, &s.ProviderID,
		&rec.ExternalID, &rec.URL, &rec.URLPending, &rec.StorageKey, &rec.StartedAt, &rec.StoppedAt,
		&s.StartsAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, liveerr.ErrNotFound
		}
		return nil, err
	}
	rows, err := q.Query(ctx, `SELECT user_id FROM live_session_participants WHERE session_id = $1 ORDER BY added_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid uuid.UUID
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		s.ParticipantIDs = append(s.ParticipantIDs, uid)
	}
	return &s, rows.Err()
}

func replaceParticipants(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, ids []uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM live_session_participants WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	for _, uid := range ids {
		const q = `INSERT INTO live_session_participants (session_id, user_id) VALUES ($1, $2)
			ON CONFLICT (session_id, user_id) DO NOTHING`
		if _, err := tx.Exec(ctx, q, sessionID, uid); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	return nil
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)
