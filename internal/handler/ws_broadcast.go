package handler

import "github.com/blitztime/api/internal/model"

// BroadcastState implements service.Broadcaster using the WebSocket hub.
func (h *Hub) BroadcastState(timerID int64, state *model.TimerState) {
	h.BroadcastToTimer(timerID, WSEvent{
		Event: EventState,
		Data:  state,
	})
}
