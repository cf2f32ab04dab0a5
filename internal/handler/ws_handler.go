package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/blitztime/api/internal/service"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second // Must be less than pongWait
	maxMsgSize   = 4096
	sendBufSize  = 256
	eventTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS handled by middleware; tighten in production
	},
}

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub      *Hub
	timerSvc *service.TimerService
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(hub *Hub, timerSvc *service.TimerService) *WSHandler {
	return &WSHandler{hub: hub, timerSvc: timerSvc}
}

// ServeWS handles GET /ws, upgrading to a WebSocket connection.
// The timer id and token arrive as query parameters since browser
// WebSocket clients cannot set headers; Blitztime-Timer and Authorization
// headers work as fallback for native clients. Unknown timers and
// non-matching tokens are refused before the upgrade.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	rawID := r.URL.Query().Get("timer")
	if rawID == "" {
		rawID = r.Header.Get("Blitztime-Timer")
	}
	timerID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, service.ErrTimerNotFound.Error())
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}

	sessionID := uuid.NewString()
	sess, err := h.timerSvc.Attach(r.Context(), timerID, token, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTimerNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrBadToken):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			log.Error().Err(err).Int64("timerId", timerID).Msg("Failed to attach session")
			writeError(w, http.StatusInternalServerError, "Internal server error.")
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		h.detach(sessionID)
		return
	}

	client := &WSConn{
		conn:      conn,
		sessionID: sessionID,
		timerID:   timerID,
		send:      make(chan []byte, sendBufSize),
	}
	h.hub.Register(client)

	go h.writePump(client)
	go h.readPump(client)

	// Everyone, the new client included, sees the updated observer count.
	h.timerSvc.BroadcastTimerState(context.Background(), timerID)

	log.Info().Str("sessionId", sessionID).Int64("timerId", timerID).
		Bool("player", sess.SideID != nil).Bool("manager", sess.IsManager).
		Int("total", h.hub.ConnectionCount()).Msg("WebSocket client connected")
}

func (h *WSHandler) detach(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if err := h.timerSvc.Detach(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to detach session")
	}
}

// readPump reads events from the WebSocket connection.
func (h *WSHandler) readPump(c *WSConn) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		h.detach(c.sessionID)
		log.Info().Str("sessionId", c.sessionID).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("sessionId", c.sessionID).Msg("WebSocket unexpected close")
			}
			break
		}

		var msg ClientEvent
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(c, "Malformed event.")
			continue
		}
		h.dispatch(c, msg)
	}
}

// dispatch routes one client event to the timer service. Rejections go
// back to the sender only; nothing here closes the connection.
func (h *WSHandler) dispatch(c *WSConn, msg ClientEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	var err error
	switch msg.Event {
	case EventStartTimer:
		err = h.timerSvc.StartTimer(ctx, c.sessionID)
	case EventEndTurn:
		err = h.timerSvc.EndTurn(ctx, c.sessionID)
	case EventTimeout, EventOpponentTimedOut:
		err = h.timerSvc.ReportTimeout(ctx, c.sessionID)
	case EventEndGame:
		err = h.timerSvc.EndGame(ctx, c.sessionID)
	case EventAddTime:
		var req struct {
			Seconds int `json:"seconds"`
		}
		if json.Unmarshal(msg.Data, &req) != nil {
			err = service.ErrSecondsInt
		} else {
			err = h.timerSvc.AddTime(ctx, c.sessionID, req.Seconds)
		}
	default:
		h.sendError(c, "Unknown event.")
		return
	}

	if err == nil {
		return
	}
	if service.IsRejection(err) {
		h.sendError(c, err.Error())
		return
	}
	log.Error().Err(err).Str("event", msg.Event).Str("sessionId", c.sessionID).Msg("Event handler failed")
	h.sendError(c, "Internal server error.")
}

func (h *WSHandler) sendError(c *WSConn, detail string) {
	h.hub.Send(c, WSEvent{Event: EventError, Data: map[string]string{"detail": detail}})
}

// writePump writes queued frames and keeps the connection alive with pings.
func (h *WSHandler) writePump(c *WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
