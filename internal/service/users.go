package service

import (
	"context"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/model"
	"geoinsight/api/internal/store"
)

// UserService resolves accounts for auth and admission. Rows are cached
// for 60 seconds, which bounds how long a tier change can lag.
type UserService struct {
	store *store.Store
	cache *cache.Cache
}

// NewUserService creates the user service.
func NewUserService(st *store.Store, c *cache.Cache) *UserService {
	return &UserService{store: st, cache: c}
}

// ByID returns the user, preferring the short-lived cache entry.
func (s *UserService) ByID(ctx context.Context, userID uint) (*model.User, error) {
	key := cache.UserKey(userID)
	if s.cache != nil {
		var user model.User
		if err := s.cache.GetJSON(ctx, key, &user); err == nil {
			return &user, nil
		}
	}

	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetJSON(ctx, key, user, cache.TTLUser)
	}
	return user, nil
}

// ByAPIKey resolves an API key to its active owner.
func (s *UserService) ByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	if apiKey == "" {
		return nil, apperr.NotFound("user not found")
	}

	key := cache.UserByAPIKeyKey(apiKey)
	if s.cache != nil {
		var user model.User
		if err := s.cache.GetJSON(ctx, key, &user); err == nil {
			return &user, nil
		}
	}

	user, err := s.store.UserByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetJSON(ctx, key, user, cache.TTLUser)
	}
	return user, nil
}
