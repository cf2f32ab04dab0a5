package service

import "github.com/blitztime/api/internal/model"

// Broadcaster fans a timer snapshot out to every connection watching it.
// Implemented by the WebSocket hub.
type Broadcaster interface {
	BroadcastState(timerID int64, state *model.TimerState)
}

// NoopBroadcaster is a no-op implementation for testing or when WS is disabled.
type NoopBroadcaster struct{}

func (NoopBroadcaster) BroadcastState(int64, *model.TimerState) {}
