package service

import "errors"

// Domain rejections. The message text is the detail clients receive, so
// it is part of the wire contract.
var (
	ErrTimerNotFound   = errors.New("Timer not found.")
	ErrSessionNotFound = errors.New("Session not found.")
	ErrBadToken        = errors.New("Token does not match this timer.")

	ErrNoStages       = errors.New("At least one stage is required.")
	ErrFirstStage     = errors.New("First stage must start on turn 0.")
	ErrStagesUnsorted = errors.New("Stages must be ordered by start turn.")
	ErrNegativeStage  = errors.New("Stage settings must not be negative.")
	ErrInvalidSlot    = errors.New("Slot must be home or away.")
	ErrGameFull       = errors.New("Game already full.")

	ErrAlreadyStarted = errors.New("Game already started.")
	ErrNotHost        = errors.New("Only host can start game.")
	ErrManagerStarts  = errors.New("Only the manager can start the game.")
	ErrHomeMissing    = errors.New("Home side has not joined yet.")
	ErrAwayMissing    = errors.New("Away side has not joined yet.")

	ErrNotPlayer     = errors.New("Only players can send this event.")
	ErrNotManager    = errors.New("Only managers can send this event.")
	ErrObserverEvent = errors.New("This event cannot be sent by an observer.")
	ErrNotYourTurn   = errors.New("Not currently your turn.")
	ErrNotOngoing    = errors.New("Game is not ongoing.")
	ErrNotTimedOut   = errors.New("Opponent is not timed out.")
	ErrSecondsInt    = errors.New("Seconds to add should be an int.")
)

var rejections = []error{
	ErrTimerNotFound,
	ErrSessionNotFound,
	ErrBadToken,
	ErrNoStages,
	ErrFirstStage,
	ErrStagesUnsorted,
	ErrNegativeStage,
	ErrInvalidSlot,
	ErrGameFull,
	ErrAlreadyStarted,
	ErrNotHost,
	ErrManagerStarts,
	ErrHomeMissing,
	ErrAwayMissing,
	ErrNotPlayer,
	ErrNotManager,
	ErrObserverEvent,
	ErrNotYourTurn,
	ErrNotOngoing,
	ErrNotTimedOut,
	ErrSecondsInt,
}

// IsRejection reports whether err is a domain rejection whose message is
// safe to hand to the client. Anything else is an internal failure and
// must not leak.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}
