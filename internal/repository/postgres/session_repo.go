package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/blitztime/api/internal/model"
)

// SessionRepo implements repository.SessionRepository backed by PostgreSQL.
type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create inserts a session row for a freshly attached connection.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, timer_id, side_id, is_manager)
		VALUES ($1, $2, $3, $4)
		RETURNING connected_at`,
		s.ID, s.TimerID, s.SideID, s.IsManager,
	).Scan(&s.ConnectedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns the session for a connection id, or nil.
func (r *SessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	var sideID sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, timer_id, side_id, is_manager, connected_at FROM sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.TimerID, &sideID, &s.IsManager, &s.ConnectedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if sideID.Valid {
		s.SideID = &sideID.Int64
	}
	return &s, nil
}

// Delete removes a session when its connection closes.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteAll clears the table. Sessions belong to live connections, so
// rows left by a previous process are stale by definition.
func (r *SessionRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

// CountByTimer returns the number of live sessions watching a timer.
func (r *SessionRepo) CountByTimer(ctx context.Context, timerID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE timer_id = $1`, timerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// ConnectedSideIDs returns side ids with at least one live session.
func (r *SessionRepo) ConnectedSideIDs(ctx context.Context, timerID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT side_id FROM sessions WHERE timer_id = $1 AND side_id IS NOT NULL`,
		timerID,
	)
	if err != nil {
		return nil, fmt.Errorf("connected sides: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan side id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the total number of live sessions across all timers.
func (r *SessionRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count all sessions: %w", err)
	}
	return count, nil
}
