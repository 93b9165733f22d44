package webhook

import (
	"context"
	"errors"
	"net/url"
	"time"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/model"
)

// Subscriptions manages webhook subscriptions. One subscription exists per
// (user, geofence) pair; registering again replaces it. Subscriptions live
// only in the cache, under a 30 day TTL, so stale endpoints age out on
// their own.
type Subscriptions struct {
	cache *cache.Cache
}

// NewSubscriptions creates the subscription registry.
func NewSubscriptions(c *cache.Cache) *Subscriptions {
	return &Subscriptions{cache: c}
}

// Register stores (or replaces) the subscription for a geofence.
func (s *Subscriptions) Register(ctx context.Context, userID, geofenceID uint, req *model.WebhookRegisterRequest) (*model.WebhookSubscription, error) {
	if err := validateEndpoint(req.URL); err != nil {
		return nil, err
	}
	for _, e := range req.Events {
		if e != model.EventEnter && e != model.EventExit {
			return nil, apperr.InvalidInputf("unknown event type %q", e)
		}
	}

	sub := &model.WebhookSubscription{
		UserID:     userID,
		GeofenceID: geofenceID,
		URL:        req.URL,
		Events:     req.Events,
		Headers:    req.Headers,
		Secret:     req.Secret,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}

	key := cache.WebhookKey(userID, geofenceID)
	if err := s.cache.SetJSON(ctx, key, sub, cache.TTLWebhook); err != nil {
		return nil, apperr.Wrap(apperr.KindDegraded, err, "webhook registry unavailable")
	}
	return sub, nil
}

// Get returns the subscription for a geofence, or NOT_FOUND.
func (s *Subscriptions) Get(ctx context.Context, userID, geofenceID uint) (*model.WebhookSubscription, error) {
	var sub model.WebhookSubscription
	err := s.cache.GetJSON(ctx, cache.WebhookKey(userID, geofenceID), &sub)
	if errors.Is(err, cache.ErrMiss) {
		return nil, apperr.NotFound("no webhook registered for this geofence")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDegraded, err, "webhook registry unavailable")
	}
	return &sub, nil
}

// Remove deletes the subscription for a geofence. Removing a missing
// subscription is not an error.
func (s *Subscriptions) Remove(ctx context.Context, userID, geofenceID uint) error {
	if err := s.cache.Delete(ctx, cache.WebhookKey(userID, geofenceID)); err != nil {
		return apperr.Wrap(apperr.KindDegraded, err, "webhook registry unavailable")
	}
	return nil
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return apperr.InvalidInput("webhook url must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.InvalidInputf("webhook url scheme %q not supported", u.Scheme)
	}
	return nil
}
