package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event names sent to clients.
const (
	EventState = "state"
	EventError = "error"
)

// Event names accepted from clients.
const (
	EventStartTimer       = "start_timer"
	EventEndTurn          = "end_turn"
	EventTimeout          = "timeout"
	EventOpponentTimedOut = "opponent_timed_out" // legacy alias for timeout
	EventEndGame          = "end_game"
	EventAddTime          = "add_time"
)

// WSEvent is the envelope for all WebSocket messages sent to clients.
type WSEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ClientEvent is the envelope for messages sent from the client. Data
// stays raw until the event name decides its shape.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSConn wraps a WebSocket connection with its session and timer binding.
type WSConn struct {
	conn      *websocket.Conn
	sessionID string
	timerID   int64
	send      chan []byte
}

// Hub manages WebSocket connections grouped by timer.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]bool
	timers      map[int64]map[*WSConn]bool // timerID -> set of connections
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]bool),
		timers:      make(map[int64]map[*WSConn]bool),
	}
}

// Register adds a connection to the hub and its timer's channel. A
// connection watches exactly one timer for its whole life.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
	if h.timers[c.timerID] == nil {
		h.timers[c.timerID] = make(map[*WSConn]bool)
	}
	h.timers[c.timerID][c] = true
}

// Unregister removes a connection from the hub and its timer's channel.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connections[c] {
		return
	}
	delete(h.connections, c)
	if conns, ok := h.timers[c.timerID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.timers, c.timerID)
		}
	}
	close(c.send)
}

// BroadcastToTimer sends an event to all connections watching a timer.
func (h *Hub) BroadcastToTimer(timerID int64, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Int64("timerId", timerID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.timers[timerID] {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("sessionId", c.sessionID).Int64("timerId", timerID).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// Send queues an event on one connection, for rejections and other
// sender-only frames.
func (h *Hub) Send(c *WSConn, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("sessionId", c.sessionID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.connections[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("sessionId", c.sessionID).Msg("Dropping WebSocket message, buffer full")
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// TimerWatcherCount returns the number of connections watching a timer.
func (h *Hub) TimerWatcherCount(timerID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.timers[timerID])
}
