package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/blitztime/api/internal/events"
	"github.com/blitztime/api/internal/model"
	"github.com/blitztime/api/internal/repository"
)

const publishTimeout = 5 * time.Second

// TimerService owns all game clock operations. Loaded timers are mutated
// in memory and persisted in one write, so every clock decision within an
// operation sees the same state.
type TimerService struct {
	timerRepo   repository.TimerRepository
	sessionRepo repository.SessionRepository
	deadlines   repository.DeadlineCache
	broadcaster Broadcaster
	publisher   events.Publisher
	clock       clockwork.Clock

	// timerLocks serializes mutating operations per timer. Connections
	// outnumber timers, so handler-level ordering is not enough.
	timerLocks sync.Map
}

func NewTimerService(timerRepo repository.TimerRepository, sessionRepo repository.SessionRepository, deadlines repository.DeadlineCache, broadcaster Broadcaster) *TimerService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &TimerService{
		timerRepo:   timerRepo,
		sessionRepo: sessionRepo,
		deadlines:   deadlines,
		broadcaster: broadcaster,
		publisher:   events.NoopPublisher{},
		clock:       clockwork.NewRealClock(),
	}
}

// SetPublisher wires the external event stream. Optional.
func (s *TimerService) SetPublisher(p events.Publisher) {
	s.publisher = p
}

// SetClock replaces the wall clock, used by tests.
func (s *TimerService) SetClock(clock clockwork.Clock) {
	s.clock = clock
}

func (s *TimerService) timerLock(timerID int64) *sync.Mutex {
	v, _ := s.timerLocks.LoadOrStore(timerID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// CreateTimer validates stage settings and creates a timer. Managed
// timers start with both slots empty and the manager token is returned;
// otherwise the creator claims the home slot and gets its token.
func (s *TimerService) CreateTimer(ctx context.Context, settings []model.StageSettings, asManager bool) (*model.Timer, string, error) {
	if err := validateSettings(settings); err != nil {
		return nil, "", err
	}
	timer, err := s.timerRepo.Create(ctx, settings, asManager, model.NewToken())
	if err != nil {
		return nil, "", err
	}
	if asManager {
		log.Info().Int64("timerId", timer.ID).Msg("Managed timer created")
		return timer, timer.ManagerToken, nil
	}
	side, err := s.timerRepo.AttachSide(ctx, timer.ID, model.SlotHome, model.NewToken())
	if err != nil {
		return nil, "", err
	}
	if side == nil {
		return nil, "", ErrGameFull
	}
	timer.Home = side
	log.Info().Int64("timerId", timer.ID).Msg("Timer created")
	return timer, side.Token, nil
}

func validateSettings(settings []model.StageSettings) error {
	if len(settings) == 0 {
		return ErrNoStages
	}
	if settings[0].StartTurn != 0 {
		return ErrFirstStage
	}
	for i, stage := range settings {
		if stage.StartTurn < 0 || stage.FixedSeconds < 0 || stage.IncrementSeconds < 0 || stage.InitialSeconds < 0 {
			return ErrNegativeStage
		}
		if i > 0 && stage.StartTurn <= settings[i-1].StartTurn {
			return ErrStagesUnsorted
		}
	}
	return nil
}

// JoinTimer claims an empty slot on a timer and returns the new side with
// its token.
func (s *TimerService) JoinTimer(ctx context.Context, timerID int64, slot string) (*model.Side, error) {
	if slot != model.SlotHome && slot != model.SlotAway {
		return nil, ErrInvalidSlot
	}
	lock := s.timerLock(timerID)
	lock.Lock()
	defer lock.Unlock()

	timer, err := s.timerRepo.FindByID(ctx, timerID)
	if err != nil {
		return nil, err
	}
	if timer == nil {
		return nil, ErrTimerNotFound
	}
	side, err := s.timerRepo.AttachSide(ctx, timerID, slot, model.NewToken())
	if err != nil {
		return nil, err
	}
	if side == nil {
		return nil, ErrGameFull
	}
	log.Info().Int64("timerId", timerID).Str("slot", slot).Msg("Side joined timer")
	s.broadcastState(ctx, timerID)
	return side, nil
}

// Snapshot returns the canonical state of a timer, including live
// connection info from the session table.
func (s *TimerService) Snapshot(ctx context.Context, timerID int64) (*model.TimerState, error) {
	timer, err := s.timerRepo.FindByID(ctx, timerID)
	if err != nil {
		return nil, err
	}
	if timer == nil {
		return nil, ErrTimerNotFound
	}
	observers, err := s.sessionRepo.CountByTimer(ctx, timerID)
	if err != nil {
		return nil, err
	}
	sideIDs, err := s.sessionRepo.ConnectedSideIDs(ctx, timerID)
	if err != nil {
		return nil, err
	}
	connected := make(map[int64]bool, len(sideIDs))
	for _, id := range sideIDs {
		connected[id] = true
	}
	return timer.State(observers, connected), nil
}

// Stats reports totals across all timers plus live connections.
func (s *TimerService) Stats(ctx context.Context) (*model.Stats, error) {
	all, ongoing, err := s.timerRepo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	connected, err := s.sessionRepo.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &model.Stats{AllTimers: all, OngoingTimers: ongoing, Connected: connected}, nil
}

// Attach binds a new connection to a timer, resolving its token to the
// home side, the away side, or (on managed timers only) the manager. An
// empty token attaches a plain observer; a token matching nothing is
// refused.
func (s *TimerService) Attach(ctx context.Context, timerID int64, token, sessionID string) (*model.Session, error) {
	timer, err := s.timerRepo.FindByID(ctx, timerID)
	if err != nil {
		return nil, err
	}
	if timer == nil {
		return nil, ErrTimerNotFound
	}
	sess := &model.Session{ID: sessionID, TimerID: timerID}
	if token != "" {
		switch {
		case timer.Home != nil && timer.Home.Token == token:
			sess.SideID = &timer.Home.ID
		case timer.Away != nil && timer.Away.Token == token:
			sess.SideID = &timer.Away.ID
		case timer.Managed && timer.ManagerToken == token:
			sess.IsManager = true
		default:
			return nil, ErrBadToken
		}
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Detach removes a connection's session and tells the remaining watchers.
func (s *TimerService) Detach(ctx context.Context, sessionID string) error {
	sess, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	if err := s.sessionRepo.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.broadcastState(ctx, sess.TimerID)
	return nil
}

// StartTimer starts the game. On managed timers only the manager may
// start; otherwise the home player does. Both slots must be filled.
func (s *TimerService) StartTimer(ctx context.Context, sessionID string) error {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return err
	}
	lock := s.timerLock(sess.TimerID)
	lock.Lock()
	defer lock.Unlock()

	timer, err := s.timerRepo.FindByID(ctx, sess.TimerID)
	if err != nil {
		return err
	}
	if timer == nil {
		return ErrTimerNotFound
	}
	if timer.StartedAt != nil {
		return ErrAlreadyStarted
	}
	if timer.Managed {
		if !sess.IsManager {
			return ErrManagerStarts
		}
	} else {
		if sess.SideID == nil || timer.Home == nil || *sess.SideID != timer.Home.ID {
			return ErrNotHost
		}
	}
	if timer.Home == nil {
		return ErrHomeMissing
	}
	if timer.Away == nil {
		return ErrAwayMissing
	}

	timer.Start(s.clock.Now().UTC())
	if err := s.timerRepo.SaveTurnState(ctx, timer); err != nil {
		return err
	}
	s.syncDeadline(ctx, timer)
	log.Info().Int64("timerId", timer.ID).Msg("Game started")
	s.broadcastState(ctx, timer.ID)
	return nil
}

// EndTurn completes the sender's turn. A manager on a managed timer ends
// the active side's turn regardless of whose it is.
func (s *TimerService) EndTurn(ctx context.Context, sessionID string) error {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return err
	}
	lock := s.timerLock(sess.TimerID)
	lock.Lock()
	defer lock.Unlock()

	timer, err := s.timerRepo.FindByID(ctx, sess.TimerID)
	if err != nil {
		return err
	}
	if timer == nil {
		return ErrTimerNotFound
	}

	var side *model.Side
	switch {
	case sess.SideID != nil:
		side = timer.SideByID(*sess.SideID)
		if side == nil {
			return ErrNotPlayer
		}
		if !side.IsTurn {
			return ErrNotYourTurn
		}
	case sess.IsManager:
		side = timer.CurrentSide()
		if side == nil {
			return ErrNotOngoing
		}
	default:
		return ErrNotPlayer
	}

	side.EndTurn(timer, s.clock.Now().UTC())
	if err := s.timerRepo.SaveTurnState(ctx, timer); err != nil {
		return err
	}
	s.syncDeadline(ctx, timer)
	if timer.HasEnded {
		log.Info().Int64("timerId", timer.ID).Int("turn", timer.TurnNumber).Msg("Game ended on exhausted clock")
	}
	s.broadcastState(ctx, timer.ID)
	return nil
}

// ReportTimeout lets a player claim the opponent's flag has fallen. The
// claim is verified against the clock before the opponent's turn is
// force-ended.
func (s *TimerService) ReportTimeout(ctx context.Context, sessionID string) error {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.SideID == nil {
		return ErrNotPlayer
	}
	lock := s.timerLock(sess.TimerID)
	lock.Lock()
	defer lock.Unlock()

	timer, err := s.timerRepo.FindByID(ctx, sess.TimerID)
	if err != nil {
		return err
	}
	if timer == nil {
		return ErrTimerNotFound
	}
	if !timer.Ongoing() {
		return ErrNotOngoing
	}
	side := timer.SideByID(*sess.SideID)
	if side == nil {
		return ErrNotPlayer
	}
	opponent := timer.Opponent(side)
	now := s.clock.Now().UTC()
	if opponent == nil || !opponent.TimedOut(timer, now) {
		return ErrNotTimedOut
	}

	opponent.EndTurn(timer, now)
	if err := s.timerRepo.SaveTurnState(ctx, timer); err != nil {
		return err
	}
	s.syncDeadline(ctx, timer)
	log.Info().Int64("timerId", timer.ID).Msg("Opponent timeout confirmed")
	s.broadcastState(ctx, timer.ID)
	return nil
}

// EndGame ends the game on request. Players report for their own side;
// managers end as an external reporter. Observers may not end games.
func (s *TimerService) EndGame(ctx context.Context, sessionID string) error {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.SideID == nil && !sess.IsManager {
		return ErrObserverEvent
	}
	lock := s.timerLock(sess.TimerID)
	lock.Lock()
	defer lock.Unlock()

	timer, err := s.timerRepo.FindByID(ctx, sess.TimerID)
	if err != nil {
		return err
	}
	if timer == nil {
		return ErrTimerNotFound
	}
	current := timer.CurrentSide()
	if current == nil {
		return ErrNotOngoing
	}

	current.EndTurn(timer, s.clock.Now().UTC())
	reporter := model.EndReporterExternal
	if sess.SideID != nil {
		reporter = model.EndReporterAway
		if timer.Home != nil && *sess.SideID == timer.Home.ID {
			reporter = model.EndReporterHome
		}
	}
	timer.EndReporter = &reporter
	timer.End()
	if err := s.timerRepo.SaveTurnState(ctx, timer); err != nil {
		return err
	}
	s.syncDeadline(ctx, timer)
	log.Info().Int64("timerId", timer.ID).Str("reporter", reporter).Msg("Game ended")
	s.broadcastState(ctx, timer.ID)
	return nil
}

// AddTime grants both sides extra seconds on a managed timer. Negative
// grants shrink clocks but never below zero.
func (s *TimerService) AddTime(ctx context.Context, sessionID string, seconds int) error {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.IsManager {
		return ErrNotManager
	}
	lock := s.timerLock(sess.TimerID)
	lock.Lock()
	defer lock.Unlock()

	timer, err := s.timerRepo.FindByID(ctx, sess.TimerID)
	if err != nil {
		return err
	}
	if timer == nil {
		return ErrTimerNotFound
	}
	if !timer.Ongoing() {
		return ErrNotOngoing
	}

	delta := time.Duration(seconds) * time.Second
	for _, side := range []*model.Side{timer.Home, timer.Away} {
		side.TotalTime += delta
		if side.TotalTime < 0 {
			side.TotalTime = 0
		}
	}
	if err := s.timerRepo.SaveTurnState(ctx, timer); err != nil {
		return err
	}
	s.syncDeadline(ctx, timer)
	log.Info().Int64("timerId", timer.ID).Int("seconds", seconds).Msg("Manager adjusted clocks")
	s.broadcastState(ctx, timer.ID)
	return nil
}

// ForceTimeout ends the game for a timer whose active side has run out.
// Safe to call speculatively: key expiry and the polling fallback can
// both fire for the same timer, and the clock is re-checked under the
// lock.
func (s *TimerService) ForceTimeout(ctx context.Context, timerID int64) error {
	lock := s.timerLock(timerID)
	lock.Lock()
	defer lock.Unlock()

	timer, err := s.timerRepo.FindByID(ctx, timerID)
	if err != nil {
		return err
	}
	if timer == nil || !timer.Ongoing() {
		return nil
	}
	side := timer.CurrentSide()
	now := s.clock.Now().UTC()
	if side == nil || !side.TimedOut(timer, now) {
		return nil
	}

	side.EndTurn(timer, now)
	if err := s.timerRepo.SaveTurnState(ctx, timer); err != nil {
		return err
	}
	s.syncDeadline(ctx, timer)
	log.Info().Int64("timerId", timer.ID).Msg("Game ended on watcher timeout")
	s.broadcastState(ctx, timer.ID)
	return nil
}

// BroadcastTimerState pushes the current snapshot to everyone watching
// the timer, used after a connection attaches.
func (s *TimerService) BroadcastTimerState(ctx context.Context, timerID int64) {
	s.broadcastState(ctx, timerID)
}

func (s *TimerService) session(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// syncDeadline mirrors the timer's flag-fall instant into Redis. Failures
// only log: the polling fallback covers timers whose key is missing.
func (s *TimerService) syncDeadline(ctx context.Context, t *model.Timer) {
	if t.HasEnded {
		if err := s.deadlines.ClearDeadline(ctx, t.ID); err != nil {
			log.Warn().Err(err).Int64("timerId", t.ID).Msg("Failed to clear deadline key")
		}
		return
	}
	deadline, ok := t.Deadline()
	if !ok {
		return
	}
	if err := s.deadlines.SetDeadline(ctx, t.ID, deadline); err != nil {
		log.Warn().Err(err).Int64("timerId", t.ID).Msg("Failed to set deadline key")
	}
}

// broadcastState re-reads the canonical snapshot and fans it out. State
// handed to watchers always comes from storage, never from the mutation
// that triggered the broadcast.
func (s *TimerService) broadcastState(ctx context.Context, timerID int64) {
	state, err := s.Snapshot(ctx, timerID)
	if err != nil {
		log.Error().Err(err).Int64("timerId", timerID).Msg("Failed to load state for broadcast")
		return
	}
	s.broadcaster.BroadcastState(timerID, state)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.publisher.PublishState(ctx, state); err != nil {
			log.Error().Err(err).Int64("timerId", timerID).Msg("Failed to publish state event")
		}
	}()
}
