package service

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/blitztime/api/internal/repository"
	redisrepo "github.com/blitztime/api/internal/repository/redis"
)

const pollInterval = 10 * time.Second

// TimerWatcher ends games whose active side has run out of time without
// waiting for the opponent to report it. It listens for Redis keyspace
// notifications on expired deadline keys and runs a polling fallback for
// when notifications are unavailable.
type TimerWatcher struct {
	rdb       *goredis.Client
	timerSvc  *TimerService
	timerRepo repository.TimerRepository
	clock     clockwork.Clock
}

// NewTimerWatcher creates a TimerWatcher.
func NewTimerWatcher(rdb *goredis.Client, timerSvc *TimerService, timerRepo repository.TimerRepository) *TimerWatcher {
	return &TimerWatcher{
		rdb:       rdb,
		timerSvc:  timerSvc,
		timerRepo: timerRepo,
		clock:     clockwork.NewRealClock(),
	}
}

// SetClock replaces the wall clock, used by tests.
func (w *TimerWatcher) SetClock(clock clockwork.Clock) {
	w.clock = clock
}

// Start begins listening for expired key events and runs a polling
// fallback. Blocks until the context is cancelled.
func (w *TimerWatcher) Start(ctx context.Context) {
	go w.listenKeyspace(ctx)
	w.pollDeadlines(ctx)
}

// listenKeyspace subscribes to Redis keyspace notifications for expired keys.
func (w *TimerWatcher) listenKeyspace(ctx context.Context) {
	pubsub := w.rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	defer pubsub.Close()

	log.Info().Msg("Timer watcher started, listening for expired deadline keys")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.handleExpiry(ctx, msg.Payload)
		}
	}
}

// pollDeadlines periodically sweeps for timers past their recorded
// deadline, catching games whose Redis key never expired or was lost.
func (w *TimerWatcher) pollDeadlines(ctx context.Context) {
	ticker := w.clock.NewTicker(pollInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", pollInterval).Msg("Deadline poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Deadline poller stopped")
			return
		case <-ticker.Chan():
			w.checkExpired(ctx)
		}
	}
}

// checkExpired finds ongoing timers past their deadline and times them out.
func (w *TimerWatcher) checkExpired(ctx context.Context) {
	ids, err := w.timerRepo.ListExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expired timers")
		return
	}
	if len(ids) > 0 {
		log.Info().Int("count", len(ids)).Msg("Poller found expired timers")
	}
	for _, id := range ids {
		if err := w.timerSvc.ForceTimeout(ctx, id); err != nil {
			log.Error().Err(err).Int64("timerId", id).Msg("Forced timeout failed from poller")
		}
	}
}

// handleExpiry processes an expired key. Only acts on deadline keys.
func (w *TimerWatcher) handleExpiry(ctx context.Context, key string) {
	timerID, ok := redisrepo.TimerIDFromKey(key)
	if !ok {
		return
	}
	log.Info().Int64("timerId", timerID).Msg("Deadline key expired, checking clock")
	if err := w.timerSvc.ForceTimeout(ctx, timerID); err != nil {
		log.Error().Err(err).Int64("timerId", timerID).Msg("Forced timeout failed after key expiry")
	}
}
