package repository

import (
	"context"
	"time"

	"github.com/blitztime/api/internal/model"
)

// TimerRepository defines timer and side persistence.
type TimerRepository interface {
	Create(ctx context.Context, settings []model.StageSettings, managed bool, managerToken string) (*model.Timer, error)
	FindByID(ctx context.Context, id int64) (*model.Timer, error)
	// AttachSide creates a side and claims the given slot atomically.
	// Returns nil with no error when the slot is already taken.
	AttachSide(ctx context.Context, timerID int64, slot, token string) (*model.Side, error)
	// SaveTurnState persists both side clocks and the timer's turn state
	// in one transaction.
	SaveTurnState(ctx context.Context, t *model.Timer) error
	// ListExpired returns ids of ongoing timers whose recorded deadline
	// has passed.
	ListExpired(ctx context.Context) ([]int64, error)
	Stats(ctx context.Context) (all, ongoing int64, err error)
}

// SessionRepository tracks live connections.
type SessionRepository interface {
	Create(ctx context.Context, s *model.Session) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
	// DeleteAll clears every session, used at startup since sessions do
	// not outlive the process that created them.
	DeleteAll(ctx context.Context) error
	CountByTimer(ctx context.Context, timerID int64) (int, error)
	// ConnectedSideIDs returns the side ids with at least one live
	// session on the timer.
	ConnectedSideIDs(ctx context.Context, timerID int64) ([]int64, error)
	Count(ctx context.Context) (int64, error)
}

// DeadlineCache stores flag-fall deadlines with a TTL (Redis). Key expiry
// drives the automatic timeout watcher.
type DeadlineCache interface {
	SetDeadline(ctx context.Context, timerID int64, deadline time.Time) error
	ClearDeadline(ctx context.Context, timerID int64) error
}
