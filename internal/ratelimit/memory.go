package ratelimit

import (
	"sync"
	"time"
)

// memoryLimiter is the in-process fallback: one sliding-window log per
// (identifier, window), pruned on each access. Semantics match the redis
// path exactly.
type memoryLimiter struct {
	mu   sync.Mutex
	logs map[string][]time.Time
}

func newMemoryLimiter() *memoryLimiter {
	return &memoryLimiter{logs: make(map[string][]time.Time)}
}

func (m *memoryLimiter) allow(identifier string, limits TierLimits, now time.Time) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &Result{Allowed: true}

	for _, w := range Windows {
		key := identifier + ":" + w.Name
		entries := m.prune(key, now.Add(-w.Length))
		limit := limits.ForWindow(w.Name)

		if w.Name == WindowMinute {
			res.Limit = limit
			res.Remaining = limit - len(entries) - 1
			if res.Remaining < 0 {
				res.Remaining = 0
			}
			res.ResetAt = now.Add(w.Length)
		}

		if len(entries) >= limit {
			res.Allowed = false
			res.Scope = w.Name
			res.RetryAfterS = retryAfterSeconds(entries[0].Add(w.Length), now, w)
			if w.Name == WindowMinute {
				res.Remaining = 0
			}
			return res
		}
	}

	for _, w := range Windows {
		key := identifier + ":" + w.Name
		m.logs[key] = append(m.logs[key], now)
	}
	return res
}

// prune drops entries at or before cutoff and returns the surviving log.
func (m *memoryLimiter) prune(key string, cutoff time.Time) []time.Time {
	entries := m.logs[key]
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	if i > 0 {
		entries = append([]time.Time(nil), entries[i:]...)
		if len(entries) == 0 {
			delete(m.logs, key)
		} else {
			m.logs[key] = entries
		}
	}
	return entries
}
