package store

import (
	"context"
	"errors"
	"net"

	"gorm.io/gorm"

	"geoinsight/api/internal/apperr"
)

// Store is the adapter over the spatial-capable relational store. All SQL
// lives here; services and the ingestion pipeline only see typed methods
// and the §7 error kinds.
type Store struct {
	db *gorm.DB
}

// New wraps a connected gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migration and health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// Ping checks store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return mapError(err)
	}
	return mapError(sqlDB.PingContext(ctx))
}

// Transaction runs fn inside a single store transaction. fn receives a
// Store bound to the transaction; any error rolls the transaction back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
	return mapError(err)
}

// sqlStater is implemented by both lib/pq and pgx error types.
type sqlStater interface {
	SQLState() string
}

// mapError classifies a store error into the stable vocabulary. Transient
// errors (connectivity, serialization) surface as STORE_TRANSIENT,
// constraint violations as STORE_CONFLICT, everything else as STORE_FATAL.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if apperr.Is(err) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.KindNotFound, err, "record not found")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, err, "store deadline expired")
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindTimeout, err, "store call canceled")
	}

	var state sqlStater
	if errors.As(err, &state) {
		code := state.SQLState()
		switch {
		case code == "23505" || code == "23503" || code == "23514":
			return apperr.Wrap(apperr.KindStoreConflict, err, "constraint violation")
		case code == "40001" || code == "40P01":
			return apperr.Wrap(apperr.KindStoreTransient, err, "serialization failure")
		case len(code) >= 2 && code[:2] == "08":
			return apperr.Wrap(apperr.KindStoreTransient, err, "connection failure")
		case code == "57014":
			return apperr.Wrap(apperr.KindTimeout, err, "statement timeout")
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Wrap(apperr.KindStoreTransient, err, "network failure")
	}

	return apperr.Wrap(apperr.KindStoreFatal, err, "store error")
}
