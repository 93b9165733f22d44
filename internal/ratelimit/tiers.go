package ratelimit

import (
	"sync"

	"geoinsight/api/internal/model"
)

// TierLimits holds the admission limits and resource quotas of one tier.
type TierLimits struct {
	PerMinute         int
	PerHour           int
	PerDay            int
	MaxDevices        int
	MaxGeofences      int
	MaxRouteWaypoints int
}

// ForWindow returns the request limit of the named window.
func (t TierLimits) ForWindow(name string) int {
	switch name {
	case WindowMinute:
		return t.PerMinute
	case WindowHour:
		return t.PerHour
	default:
		return t.PerDay
	}
}

func defaultTierTable() map[string]TierLimits {
	return map[string]TierLimits{
		model.TierFree: {
			PerMinute: 60, PerHour: 1000, PerDay: 10000,
			MaxDevices: 5, MaxGeofences: 10, MaxRouteWaypoints: 10,
		},
		model.TierBasic: {
			PerMinute: 300, PerHour: 10000, PerDay: 100000,
			MaxDevices: 50, MaxGeofences: 100, MaxRouteWaypoints: 25,
		},
		model.TierProfessional: {
			PerMinute: 1000, PerHour: 50000, PerDay: 1000000,
			MaxDevices: 500, MaxGeofences: 1000, MaxRouteWaypoints: 100,
		},
		model.TierEnterprise: {
			PerMinute: 5000, PerHour: 200000, PerDay: 5000000,
			MaxDevices: 10000, MaxGeofences: 10000, MaxRouteWaypoints: 500,
		},
	}
}

// Tiers is the tier limit table, with optional per-deployment overrides.
// Unknown tiers fall back to the free limits.
type Tiers struct {
	mu     sync.RWMutex
	limits map[string]TierLimits
}

// NewTiers builds the default table.
func NewTiers() *Tiers {
	return &Tiers{limits: defaultTierTable()}
}

// Override replaces the request-window limits of one tier. Non-positive
// values keep the current limit; quotas are never overridden.
func (t *Tiers) Override(tier string, perMinute, perHour, perDay int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	limits, ok := t.limits[tier]
	if !ok {
		limits = t.limits[model.TierFree]
	}
	if perMinute > 0 {
		limits.PerMinute = perMinute
	}
	if perHour > 0 {
		limits.PerHour = perHour
	}
	if perDay > 0 {
		limits.PerDay = perDay
	}
	t.limits[tier] = limits
}

// Limits returns the limits of the given tier.
func (t *Tiers) Limits(tier string) TierLimits {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if limits, ok := t.limits[tier]; ok {
		return limits
	}
	return t.limits[model.TierFree]
}
