package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blitztime/api/internal/model"
)

// TimerRepo implements repository.TimerRepository backed by PostgreSQL.
type TimerRepo struct {
	db *sql.DB
}

func NewTimerRepo(db *sql.DB) *TimerRepo {
	return &TimerRepo{db: db}
}

// Create inserts a new timer with no sides attached.
func (r *TimerRepo) Create(ctx context.Context, settings []model.StageSettings, managed bool, managerToken string) (*model.Timer, error) {
	encoded, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	var t model.Timer
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO timers (settings, managed, manager_token)
		VALUES ($1, $2, $3)
		RETURNING id, turn_number, has_ended, managed, manager_token, created_at`,
		encoded, managed, managerToken,
	).Scan(&t.ID, &t.TurnNumber, &t.HasEnded, &t.Managed, &t.ManagerToken, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create timer: %w", err)
	}
	t.Settings = settings
	return &t, nil
}

// FindByID loads a timer with both sides joined in.
func (r *TimerRepo) FindByID(ctx context.Context, id int64) (*model.Timer, error) {
	var (
		t                        model.Timer
		settings                 []byte
		turnStartedAt, startedAt sql.NullTime
		endReporter              sql.NullString
		homeID, awayID           sql.NullInt64
		homeToken, awayToken     sql.NullString
		homeTurn, awayTurn       sql.NullBool
		homeMs, awayMs           sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT t.id, t.turn_number, t.turn_started_at, t.started_at, t.has_ended,
		       t.end_reporter, t.settings, t.managed, t.manager_token, t.created_at,
		       h.id, h.token, h.is_turn, h.total_time_ms,
		       a.id, a.token, a.is_turn, a.total_time_ms
		FROM timers t
		LEFT JOIN sides h ON h.id = t.home_side_id
		LEFT JOIN sides a ON a.id = t.away_side_id
		WHERE t.id = $1`,
		id,
	).Scan(&t.ID, &t.TurnNumber, &turnStartedAt, &startedAt, &t.HasEnded,
		&endReporter, &settings, &t.Managed, &t.ManagerToken, &t.CreatedAt,
		&homeID, &homeToken, &homeTurn, &homeMs,
		&awayID, &awayToken, &awayTurn, &awayMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find timer: %w", err)
	}
	if err := json.Unmarshal(settings, &t.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if turnStartedAt.Valid {
		ts := turnStartedAt.Time.UTC()
		t.TurnStartedAt = &ts
	}
	if startedAt.Valid {
		ts := startedAt.Time.UTC()
		t.StartedAt = &ts
	}
	if endReporter.Valid {
		t.EndReporter = &endReporter.String
	}
	t.Home = scanSide(homeID, homeToken, homeTurn, homeMs)
	t.Away = scanSide(awayID, awayToken, awayTurn, awayMs)
	return &t, nil
}

func scanSide(id sql.NullInt64, token sql.NullString, isTurn sql.NullBool, totalMs sql.NullInt64) *model.Side {
	if !id.Valid {
		return nil
	}
	return &model.Side{
		ID:        id.Int64,
		Token:     token.String,
		IsTurn:    isTurn.Bool,
		TotalTime: time.Duration(totalMs.Int64) * time.Millisecond,
	}
}

// AttachSide creates a side row and claims the slot with a conditional
// update. The rollback on a lost race discards the orphan side. Returns
// nil, nil when the slot was already taken.
func (r *TimerRepo) AttachSide(ctx context.Context, timerID int64, slot, token string) (*model.Side, error) {
	var column string
	switch slot {
	case model.SlotHome:
		column = "home_side_id"
	case model.SlotAway:
		column = "away_side_id"
	default:
		return nil, fmt.Errorf("invalid slot %q", slot)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var side model.Side
	var totalMs int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sides (token) VALUES ($1)
		RETURNING id, token, is_turn, total_time_ms`,
		token,
	).Scan(&side.ID, &side.Token, &side.IsTurn, &totalMs)
	if err != nil {
		return nil, fmt.Errorf("create side: %w", err)
	}
	side.TotalTime = time.Duration(totalMs) * time.Millisecond

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE timers SET %s = $1 WHERE id = $2 AND %s IS NULL`, column, column),
		side.ID, timerID,
	)
	if err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	if claimed == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attach: %w", err)
	}
	return &side, nil
}

// SaveTurnState persists a turn transition: both side clocks and the timer
// row update together or not at all.
func (r *TimerRepo) SaveTurnState(ctx context.Context, t *model.Timer) error {
	if t.Home == nil || t.Away == nil {
		return fmt.Errorf("save turn state: timer %d sides not loaded", t.ID)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, side := range []*model.Side{t.Home, t.Away} {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sides SET is_turn = $1, total_time_ms = $2 WHERE id = $3`,
			side.IsTurn, side.TotalTime.Milliseconds(), side.ID,
		); err != nil {
			return fmt.Errorf("update side: %w", err)
		}
	}

	var deadline *time.Time
	if d, ok := t.Deadline(); ok {
		deadline = &d
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE timers
		SET turn_number = $1, turn_started_at = $2, started_at = $3,
		    has_ended = $4, end_reporter = $5, deadline_at = $6
		WHERE id = $7`,
		t.TurnNumber, t.TurnStartedAt, t.StartedAt, t.HasEnded, t.EndReporter, deadline, t.ID,
	); err != nil {
		return fmt.Errorf("update timer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn state: %w", err)
	}
	return nil
}

// ListExpired returns ids of ongoing timers whose deadline has passed,
// the polling fallback behind Redis key expiry.
func (r *TimerRepo) ListExpired(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM timers
		WHERE started_at IS NOT NULL AND NOT has_ended
		  AND deadline_at IS NOT NULL AND deadline_at < now()
		ORDER BY deadline_at`)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns total and still-ongoing timer counts.
func (r *TimerRepo) Stats(ctx context.Context) (all, ongoing int64, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT has_ended) FROM timers`,
	).Scan(&all, &ongoing)
	if err != nil {
		return 0, 0, fmt.Errorf("timer stats: %w", err)
	}
	return all, ongoing, nil
}
