package model

import "time"

// CurrentStage resolves the stage settings in effect right now. Stages
// are keyed by completed move pairs, so both players always share one
// stage; before the game starts the first stage applies.
func (t *Timer) CurrentStage() StageSettings {
	turn := t.TurnNumber
	if turn < 0 {
		turn = 0
	}
	pair := turn / 2
	for i := len(t.Settings) - 1; i >= 0; i-- {
		if t.Settings[i].StartTurn <= pair {
			return t.Settings[i]
		}
	}
	return t.Settings[0]
}

// Ongoing reports whether the game has started and not yet ended.
func (t *Timer) Ongoing() bool {
	return t.StartedAt != nil && !t.HasEnded
}

// CurrentSide returns the side whose clock is running, or nil when no
// turn is active.
func (t *Timer) CurrentSide() *Side {
	if t.Home != nil && t.Home.IsTurn {
		return t.Home
	}
	if t.Away != nil && t.Away.IsTurn {
		return t.Away
	}
	return nil
}

// Opponent returns the other side of the board.
func (t *Timer) Opponent(s *Side) *Side {
	if t.Home != nil && s.ID == t.Home.ID {
		return t.Away
	}
	return t.Home
}

// SideByID returns the side with the given id, or nil.
func (t *Timer) SideByID(id int64) *Side {
	if t.Home != nil && t.Home.ID == id {
		return t.Home
	}
	if t.Away != nil && t.Away.ID == id {
		return t.Away
	}
	return nil
}

// Start begins the game. Home moves first and both sides receive the
// first stage's initial allotment.
func (t *Timer) Start(now time.Time) {
	t.TurnNumber = 0
	t.Home.IsTurn = true
	initial := t.CurrentStage().InitialTime()
	t.Home.TotalTime = initial
	t.Away.TotalTime = initial
	t.TurnStartedAt = &now
	t.StartedAt = &now
}

// End marks the game finished and stops both clocks. Terminal: no turn
// state changes afterward.
func (t *Timer) End() {
	t.HasEnded = true
	if t.Home != nil {
		t.Home.IsTurn = false
	}
	if t.Away != nil {
		t.Away.IsTurn = false
	}
}

// EndTurn completes this side's turn and hands the move to the opponent.
//
// Time spent beyond the stage's fixed allowance is charged to this side
// alone. If that exhausts the clock it is clamped to zero and the game
// ends; no increment is granted on the losing move. Otherwise the stage
// increment is added and, when the completed move lands exactly on a
// later stage's start turn, that stage's initial time is granted on top.
func (s *Side) EndTurn(t *Timer, now time.Time) {
	opponent := t.Opponent(s)
	s.IsTurn = false
	opponent.IsTurn = true

	stage := t.CurrentStage()
	t.TurnNumber++

	extra := now.Sub(*t.TurnStartedAt) - stage.FixedPerTurn()
	if extra >= 0 {
		s.TotalTime -= extra
		if s.TotalTime <= 0 {
			s.TotalTime = 0
			t.End()
			return
		}
	}
	s.TotalTime += stage.IncrementPerTurn()

	stage = t.CurrentStage()
	if stage.StartTurn > 0 && t.TurnNumber/2 == stage.StartTurn {
		s.TotalTime += stage.InitialTime()
	}
	t.TurnStartedAt = &now
}

// TimedOut reports whether this side has exhausted its clock mid-turn.
// Pure read: ending the game still requires an explicit EndTurn.
func (s *Side) TimedOut(t *Timer, now time.Time) bool {
	if !s.IsTurn || t.TurnStartedAt == nil {
		return false
	}
	extra := now.Sub(*t.TurnStartedAt) - t.CurrentStage().FixedPerTurn()
	return extra > 0 && s.TotalTime-extra < 0
}

// Deadline returns the instant the side on the move runs out of time.
func (t *Timer) Deadline() (time.Time, bool) {
	if !t.Ongoing() || t.TurnStartedAt == nil {
		return time.Time{}, false
	}
	side := t.CurrentSide()
	if side == nil {
		return time.Time{}, false
	}
	stage := t.CurrentStage()
	return t.TurnStartedAt.Add(stage.FixedPerTurn() + side.TotalTime), true
}

// State builds the snapshot for this timer. connectedSides holds the side
// ids that have at least one live session; observers counts every live
// session on the timer.
func (t *Timer) State(observers int, connectedSides map[int64]bool) *TimerState {
	state := &TimerState{
		ID:            t.ID,
		TurnNumber:    t.TurnNumber,
		TurnStartedAt: epochSeconds(t.TurnStartedAt),
		StartedAt:     epochSeconds(t.StartedAt),
		HasEnded:      t.HasEnded,
		EndReporter:   t.EndReporter,
		Settings:      t.Settings,
		Observers:     observers,
		Managed:       t.Managed,
	}
	if t.Home != nil {
		state.Home = sideState(t.Home, connectedSides)
	}
	if t.Away != nil {
		state.Away = sideState(t.Away, connectedSides)
	}
	return state
}

func sideState(s *Side, connectedSides map[int64]bool) *SideState {
	return &SideState{
		IsTurn:    s.IsTurn,
		TotalTime: s.TotalTime.Seconds(),
		Connected: connectedSides[s.ID],
	}
}

func epochSeconds(t *time.Time) *float64 {
	if t == nil {
		return nil
	}
	v := float64(t.UnixMilli()) / 1000.0
	return &v
}
