package handler

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/blitztime/api/internal/model"
)

func newTestConn(sessionID string, timerID int64) *WSConn {
	return &WSConn{
		conn:      nil, // no real connection for hub tests
		sessionID: sessionID,
		timerID:   timerID,
		send:      make(chan []byte, 256),
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	c := newTestConn("s1", 1)

	hub.Register(c)
	if hub.ConnectionCount() != 1 {
		t.Errorf("expected 1 connection, got %d", hub.ConnectionCount())
	}
	if hub.TimerWatcherCount(1) != 1 {
		t.Errorf("expected 1 watcher, got %d", hub.TimerWatcherCount(1))
	}

	hub.Unregister(c)
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections, got %d", hub.ConnectionCount())
	}
	if hub.TimerWatcherCount(1) != 0 {
		t.Errorf("expected 0 watchers, got %d", hub.TimerWatcherCount(1))
	}
}

func TestHubUnregisterIdempotent(t *testing.T) {
	hub := NewHub()
	c := newTestConn("s1", 1)
	hub.Register(c)

	hub.Unregister(c)
	// The read pump and a failed write can both unregister; the second
	// call must not close the channel again.
	hub.Unregister(c)

	if hub.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastToTimer(t *testing.T) {
	hub := NewHub()
	c1 := newTestConn("s1", 1)
	c2 := newTestConn("s2", 1)
	c3 := newTestConn("s3", 2) // watching another timer

	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)
	defer hub.Unregister(c3)

	hub.BroadcastToTimer(1, WSEvent{Event: EventState, Data: map[string]int{"turn_number": 3}})

	// c1 and c2 should receive, c3 should not
	for _, c := range []*WSConn{c1, c2} {
		select {
		case msg := <-c.send:
			var event struct {
				Event string `json:"event"`
			}
			json.Unmarshal(msg, &event)
			if event.Event != EventState {
				t.Errorf("expected state, got %s", event.Event)
			}
		case <-time.After(time.Second):
			t.Errorf("%s did not receive broadcast", c.sessionID)
		}
	}

	select {
	case <-c3.send:
		t.Error("c3 should not have received another timer's broadcast")
	default:
		// ok
	}
}

func TestHubSend(t *testing.T) {
	hub := NewHub()
	c1 := newTestConn("s1", 1)
	c2 := newTestConn("s2", 1)
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	hub.Send(c1, WSEvent{Event: EventError, Data: map[string]string{"detail": "Not currently your turn."}})

	select {
	case msg := <-c1.send:
		var event struct {
			Event string            `json:"event"`
			Data  map[string]string `json:"data"`
		}
		json.Unmarshal(msg, &event)
		if event.Event != EventError {
			t.Errorf("expected error, got %s", event.Event)
		}
		if event.Data["detail"] != "Not currently your turn." {
			t.Errorf("unexpected detail %q", event.Data["detail"])
		}
	case <-time.After(time.Second):
		t.Error("c1 did not receive the frame")
	}

	select {
	case <-c2.send:
		t.Error("c2 should not have received a sender-only frame")
	default:
		// ok
	}
}

func TestHubSendAfterUnregister(t *testing.T) {
	hub := NewHub()
	c := newTestConn("s1", 1)
	hub.Register(c)
	hub.Unregister(c)

	// Must not panic on the closed channel.
	hub.Send(c, WSEvent{Event: EventError, Data: map[string]string{"detail": "gone"}})
}

func TestHubBroadcastFullBufferDropsFrame(t *testing.T) {
	hub := NewHub()
	c := &WSConn{sessionID: "s1", timerID: 1, send: make(chan []byte, 1)}
	hub.Register(c)
	defer hub.Unregister(c)

	hub.BroadcastToTimer(1, WSEvent{Event: EventState})
	// Buffer now full; the second broadcast must drop, not block.
	done := make(chan struct{})
	go func() {
		hub.BroadcastToTimer(1, WSEvent{Event: EventState})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full buffer")
	}
}

func TestHubConcurrentAccess(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	// Concurrently register, broadcast, unregister
	for i := range 50 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c := newTestConn("s", int64(id%5))
			hub.Register(c)
			hub.BroadcastToTimer(int64(id%5), WSEvent{Event: EventState})
			hub.Unregister(c)
		}(i)
	}

	wg.Wait()
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections after concurrent test, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastState(t *testing.T) {
	hub := NewHub()
	c := newTestConn("s1", 42)
	hub.Register(c)
	defer hub.Unregister(c)

	hub.BroadcastState(42, &model.TimerState{ID: 42, TurnNumber: 7})

	select {
	case msg := <-c.send:
		var event struct {
			Event string           `json:"event"`
			Data  model.TimerState `json:"data"`
		}
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if event.Event != EventState {
			t.Errorf("expected state, got %s", event.Event)
		}
		if event.Data.ID != 42 || event.Data.TurnNumber != 7 {
			t.Errorf("unexpected payload %+v", event.Data)
		}
	case <-time.After(time.Second):
		t.Error("did not receive broadcast")
	}
}
