package redis

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Key pattern for flag-fall deadlines.
func deadlineKey(timerID int64) string {
	return "timer:" + strconv.FormatInt(timerID, 10) + ":deadline"
}

// deadlineGracePeriod is the extra TTL past the computed flag fall before
// the key expires, so expiry lands once the side is unambiguously out of
// time.
const deadlineGracePeriod = 2 * time.Second

// SetDeadline stores the active side's flag-fall instant with a TTL. Key
// expiry feeds the keyspace notifications the timeout watcher listens on.
func (c *Client) SetDeadline(ctx context.Context, timerID int64, deadline time.Time) error {
	ttl := time.Until(deadline) + deadlineGracePeriod
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.rdb.Set(ctx, deadlineKey(timerID), deadline.Unix(), ttl).Err()
}

// ClearDeadline removes the deadline key for a timer.
func (c *Client) ClearDeadline(ctx context.Context, timerID int64) error {
	return c.rdb.Del(ctx, deadlineKey(timerID)).Err()
}

// TimerIDFromKey extracts the timer id from an expired deadline key.
// Returns false for keys that are not deadline keys.
func TimerIDFromKey(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, "timer:")
	if !ok {
		return 0, false
	}
	raw, ok := strings.CutSuffix(rest, ":deadline")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
