package engagement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-live/backend/internal/models"
)

// Repository is the PostgreSQL-backed Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an engagement repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertComment inserts a comment and fills its id and timestamp.
func (r *Repository) InsertComment(ctx context.Context, c *models.Comment) error {
	const query = `INSERT INTO session_comments (id, session_id, author_id, text, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, NOW())
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query, c.SessionID, c.AuthorID, c.Text).
		Scan(&c.ID, &c.CreatedAt)
}

// RecentComments returns the newest comments first.
func (r *Repository) RecentComments(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Comment, error) {
	const query = `SELECT id, session_id, author_id, text, created_at
		FROM session_comments WHERE session_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Comment, error) {
		var c models.Comment
		err := row.Scan(&c.ID, &c.SessionID, &c.AuthorID, &c.Text, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan comments: %w", err)
	}
	return list, nil
}

// ToggleReaction deletes the reaction if present, otherwise inserts it.
func (r *Repository) ToggleReaction(ctx context.Context, sessionID, userID uuid.UUID, kind models.ReactionKind) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const del = `DELETE FROM session_reactions WHERE session_id = $1 AND user_id = $2 AND kind = $3`
	tag, err := tx.Exec(ctx, del, sessionID, userID, kind)
	if err != nil {
		return false, err
	}
	active := tag.RowsAffected() == 0
	if active {
		const ins = `INSERT INTO session_reactions (session_id, user_id, kind) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`
		if _, err := tx.Exec(ctx, ins, sessionID, userID, kind); err != nil {
			return false, err
		}
	}
	return active, tx.Commit(ctx)
}

// CountReactions returns the number of users holding the reaction.
func (r *Repository) CountReactions(ctx context.Context, sessionID uuid.UUID, kind models.ReactionKind) (int, error) {
	const query = `SELECT COUNT(*) FROM session_reactions WHERE session_id = $1 AND kind = $2`
	var n int
	err := r.pool.QueryRow(ctx, query, sessionID, kind).Scan(&n)
	return n, err
}
