package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/model"
)

// UserByID loads one active user row.
func (s *Store) UserByID(ctx context.Context, userID uint) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Where("id = ? AND active = ?", userID, true).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

// UserByAPIKey resolves an API key to its active owner.
func (s *Store) UserByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Where("api_key = ? AND active = ?", apiKey, true).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}
