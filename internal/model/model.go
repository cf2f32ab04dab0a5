package model

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// Board slots a player can occupy.
const (
	SlotHome = "home"
	SlotAway = "away"
)

// EndReporter values recorded when a game is ended explicitly.
const (
	EndReporterHome     = "home"
	EndReporterAway     = "away"
	EndReporterExternal = "external"
)

// StageSettings configures the clock rules for one stage of a timer. A
// stage activates once both players have completed StartTurn full turns.
type StageSettings struct {
	StartTurn        int `json:"start_turn"`
	FixedSeconds     int `json:"seconds_fixed_per_turn"`
	IncrementSeconds int `json:"seconds_increment_per_turn"`
	InitialSeconds   int `json:"initial_seconds"`
}

// FixedPerTurn returns the free time allowed at the start of every turn.
func (s StageSettings) FixedPerTurn() time.Duration {
	return time.Duration(s.FixedSeconds) * time.Second
}

// IncrementPerTurn returns the bonus added after each completed turn.
func (s StageSettings) IncrementPerTurn() time.Duration {
	return time.Duration(s.IncrementSeconds) * time.Second
}

// InitialTime returns the budget granted when the stage activates.
func (s StageSettings) InitialTime() time.Duration {
	return time.Duration(s.InitialSeconds) * time.Second
}

// Side is one player's clock state. Token authenticates the player who
// claimed the slot.
type Side struct {
	ID        int64
	Token     string
	IsTurn    bool
	TotalTime time.Duration
}

// Timer is a full game clock: two sides, staged settings, and turn state.
// TurnNumber counts individual moves, not move pairs; it is -1 until the
// game starts.
type Timer struct {
	ID            int64
	TurnNumber    int
	TurnStartedAt *time.Time
	StartedAt     *time.Time
	HasEnded      bool
	EndReporter   *string
	Home          *Side
	Away          *Side
	Settings      []StageSettings
	Managed       bool
	ManagerToken  string
	CreatedAt     time.Time
}

// Session binds one live connection to a timer, and optionally to a side
// or the manager role.
type Session struct {
	ID          string
	TimerID     int64
	SideID      *int64
	IsManager   bool
	ConnectedAt time.Time
}

// SideState is a side's entry in the timer snapshot.
type SideState struct {
	IsTurn    bool    `json:"is_turn"`
	TotalTime float64 `json:"total_time"`
	Connected bool    `json:"connected"`
}

// TimerState is the canonical snapshot served over HTTP and broadcast to
// every connection. Timestamps are Unix epoch seconds, durations seconds.
type TimerState struct {
	ID            int64           `json:"id"`
	TurnNumber    int             `json:"turn_number"`
	TurnStartedAt *float64        `json:"turn_started_at"`
	StartedAt     *float64        `json:"started_at"`
	HasEnded      bool            `json:"has_ended"`
	EndReporter   *string         `json:"end_reporter"`
	Home          *SideState      `json:"home"`
	Away          *SideState      `json:"away"`
	Settings      []StageSettings `json:"settings"`
	Observers     int             `json:"observers"`
	Managed       bool            `json:"managed"`
}

// Stats is the aggregate usage report.
type Stats struct {
	AllTimers     int64 `json:"all_timers"`
	OngoingTimers int64 `json:"ongoing_timers"`
	Connected     int64 `json:"connected"`
}

// NewToken generates an unguessable authentication token.
func NewToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
