package ratelimit

import (
	"context"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/cache"
)

// Window names. Each identifier is tracked in all three concurrently.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
)

// Window pairs a name with its length.
type Window struct {
	Name   string
	Length time.Duration
}

// Windows lists the concurrent admission windows, shortest first.
var Windows = []Window{
	{WindowMinute, time.Minute},
	{WindowHour, time.Hour},
	{WindowDay, 24 * time.Hour},
}

// Result reports one admission decision. Limit/Remaining/ResetAt describe
// the minute window (the one surfaced in response headers); Scope and
// RetryAfterS are set only on denial.
type Result struct {
	Allowed     bool
	Scope       string
	Limit       int
	Remaining   int
	ResetAt     time.Time
	RetryAfterS int
}

// Err converts a denial into the RATE_LIMITED error.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	return apperr.RateLimited(r.Scope, r.RetryAfterS)
}

// Limiter is the sliding-window-log admission controller. The window logs
// live in redis sorted sets; when redis is unavailable the limiter degrades
// to an in-process log with identical semantics.
type Limiter struct {
	rdb   *redis.Client
	tiers *Tiers
	mem   *memoryLimiter
	clock clockwork.Clock

	degradedMu   sync.Mutex
	degradedLast time.Time
}

// New builds a limiter over a redis client. rdb may be nil, which forces
// the in-process fallback (single-node deployments and tests).
func New(rdb *redis.Client, tiers *Tiers, clock clockwork.Clock) *Limiter {
	return &Limiter{
		rdb:   rdb,
		tiers: tiers,
		mem:   newMemoryLimiter(),
		clock: clock,
	}
}

// Tiers exposes the limit table for quota checks.
func (l *Limiter) Tiers() *Tiers { return l.tiers }

// Allow admits or denies one request for the identifier under the tier's
// limits. All three windows are consulted; the first exhausted window
// denies.
func (l *Limiter) Allow(ctx context.Context, identifier, tier string) *Result {
	limits := l.tiers.Limits(tier)
	now := l.clock.Now()

	if l.rdb == nil {
		return l.mem.allow(identifier, limits, now)
	}
	res, err := l.allowRedis(ctx, identifier, limits, now)
	if err != nil {
		l.logDegraded(err)
		return l.mem.allow(identifier, limits, now)
	}
	return res
}

// allowRedis consults and then appends the redis window logs. The check
// and the admit are separate round trips, so two requests racing at the
// exact limit can both be admitted; the log corrects on the next check.
// A Lua script would make the pair atomic if exact admission is needed.
func (l *Limiter) allowRedis(ctx context.Context, identifier string, limits TierLimits, now time.Time) (*Result, error) {
	res := &Result{Allowed: true}

	for _, w := range Windows {
		key := cache.RateLimitKey(identifier, w.Name)
		windowStart := now.Add(-w.Length)

		pipe := l.rdb.Pipeline()
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
		cardCmd := pipe.ZCard(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}

		count := int(cardCmd.Val())
		limit := limits.ForWindow(w.Name)

		if w.Name == WindowMinute {
			res.Limit = limit
			res.Remaining = limit - count - 1
			if res.Remaining < 0 {
				res.Remaining = 0
			}
			res.ResetAt = now.Add(w.Length)
		}

		if count >= limit {
			res.Allowed = false
			res.Scope = w.Name
			res.RetryAfterS = l.redisRetryAfter(ctx, key, w, now)
			if w.Name == WindowMinute {
				res.Remaining = 0
			}
			return res, nil
		}
	}

	// Admitted: record the request in every window log.
	member := uuid.NewString()
	pipe := l.rdb.Pipeline()
	for _, w := range Windows {
		key := cache.RateLimitKey(identifier, w.Name)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
		pipe.Expire(ctx, key, w.Length+time.Second)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// redisRetryAfter derives the wait until the oldest logged request slides
// out of the window.
func (l *Limiter) redisRetryAfter(ctx context.Context, key string, w Window, now time.Time) int {
	oldest, err := l.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return int(w.Length / time.Second)
	}
	expiry := time.Unix(0, int64(oldest[0].Score)).Add(w.Length)
	return retryAfterSeconds(expiry, now, w)
}

func retryAfterSeconds(expiry, now time.Time, w Window) int {
	secs := int(math.Ceil(expiry.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	if max := int(w.Length / time.Second); secs > max {
		secs = max
	}
	return secs
}

// logDegraded notes the fallback at most once per minute to keep the log
// readable during a redis outage.
func (l *Limiter) logDegraded(err error) {
	l.degradedMu.Lock()
	defer l.degradedMu.Unlock()
	now := l.clock.Now()
	if now.Sub(l.degradedLast) >= time.Minute {
		l.degradedLast = now
		log.Printf("[RateLimit] Redis unavailable, serving from in-process windows: %v", err)
	}
}
