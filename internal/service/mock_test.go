package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blitztime/api/internal/model"
)

// mockTimerRepo implements repository.TimerRepository in memory. Loaded
// timers are deep copies, so changes only persist through SaveTurnState,
// mirroring the real repo contract.
type mockTimerRepo struct {
	mu      sync.Mutex
	timers  map[int64]*model.Timer
	nextID  int64
	sideSeq int64
	expired []int64
}

func newMockTimerRepo() *mockTimerRepo {
	return &mockTimerRepo{timers: make(map[int64]*model.Timer)}
}

func copySide(s *model.Side) *model.Side {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func copyTimer(t *model.Timer) *model.Timer {
	cp := *t
	cp.Home = copySide(t.Home)
	cp.Away = copySide(t.Away)
	cp.Settings = append([]model.StageSettings(nil), t.Settings...)
	if t.TurnStartedAt != nil {
		ts := *t.TurnStartedAt
		cp.TurnStartedAt = &ts
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		cp.StartedAt = &ts
	}
	if t.EndReporter != nil {
		r := *t.EndReporter
		cp.EndReporter = &r
	}
	return &cp
}

func (m *mockTimerRepo) Create(_ context.Context, settings []model.StageSettings, managed bool, managerToken string) (*model.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &model.Timer{
		ID:           m.nextID,
		TurnNumber:   -1,
		Settings:     append([]model.StageSettings(nil), settings...),
		Managed:      managed,
		ManagerToken: managerToken,
		CreatedAt:    time.Now(),
	}
	m.timers[t.ID] = t
	return copyTimer(t), nil
}

func (m *mockTimerRepo) FindByID(_ context.Context, id int64) (*model.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[id]
	if !ok {
		return nil, nil
	}
	return copyTimer(t), nil
}

func (m *mockTimerRepo) AttachSide(_ context.Context, timerID int64, slot, token string) (*model.Side, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[timerID]
	if !ok {
		return nil, fmt.Errorf("timer %d missing", timerID)
	}
	m.sideSeq++
	side := &model.Side{ID: m.sideSeq, Token: token}
	switch slot {
	case model.SlotHome:
		if t.Home != nil {
			return nil, nil
		}
		t.Home = side
	case model.SlotAway:
		if t.Away != nil {
			return nil, nil
		}
		t.Away = side
	default:
		return nil, fmt.Errorf("invalid slot %q", slot)
	}
	return copySide(side), nil
}

func (m *mockTimerRepo) SaveTurnState(_ context.Context, t *model.Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timers[t.ID]; !ok {
		return fmt.Errorf("timer %d missing", t.ID)
	}
	m.timers[t.ID] = copyTimer(t)
	return nil
}

func (m *mockTimerRepo) ListExpired(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.expired...), nil
}

func (m *mockTimerRepo) Stats(_ context.Context) (all, ongoing int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		all++
		if !t.HasEnded {
			ongoing++
		}
	}
	return all, ongoing, nil
}

// get returns the stored timer for direct inspection and mutation.
func (m *mockTimerRepo) get(id int64) *model.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers[id]
}

// mockSessionRepo implements repository.SessionRepository in memory.
type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*model.Session)}
}

func (m *mockSessionRepo) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ConnectedAt = time.Now()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionRepo) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*model.Session)
	return nil
}

func (m *mockSessionRepo) CountByTimer(_ context.Context, timerID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sessions {
		if s.TimerID == timerID {
			count++
		}
	}
	return count, nil
}

func (m *mockSessionRepo) ConnectedSideIDs(_ context.Context, timerID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, s := range m.sessions {
		if s.TimerID == timerID && s.SideID != nil && !seen[*s.SideID] {
			seen[*s.SideID] = true
			ids = append(ids, *s.SideID)
		}
	}
	return ids, nil
}

func (m *mockSessionRepo) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sessions)), nil
}

// mockDeadlineCache implements repository.DeadlineCache in memory.
type mockDeadlineCache struct {
	mu        sync.Mutex
	deadlines map[int64]time.Time
}

func newMockDeadlineCache() *mockDeadlineCache {
	return &mockDeadlineCache{deadlines: make(map[int64]time.Time)}
}

func (m *mockDeadlineCache) SetDeadline(_ context.Context, timerID int64, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[timerID] = deadline
	return nil
}

func (m *mockDeadlineCache) ClearDeadline(_ context.Context, timerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadlines, timerID)
	return nil
}

func (m *mockDeadlineCache) get(timerID int64) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deadlines[timerID]
	return d, ok
}

// captureBroadcaster records every state fanned out to the hub.
type captureBroadcaster struct {
	mu     sync.Mutex
	states []*model.TimerState
}

func (b *captureBroadcaster) BroadcastState(_ int64, state *model.TimerState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, state)
}

func (b *captureBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.states)
}

func (b *captureBroadcaster) last() *model.TimerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.states) == 0 {
		return nil
	}
	return b.states[len(b.states)-1]
}

// capturePublisher exposes published states on a channel so tests can
// wait for the asynchronous publish.
type capturePublisher struct {
	ch chan *model.TimerState
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{ch: make(chan *model.TimerState, 16)}
}

func (p *capturePublisher) PublishState(_ context.Context, state *model.TimerState) error {
	select {
	case p.ch <- state:
	default:
	}
	return nil
}

func (p *capturePublisher) Close() {}
