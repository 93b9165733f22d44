package ingest

import (
	"context"

	"geoinsight/api/internal/store"
)

// SQLStore adapts *store.Store to the pipeline's Store interface. The only
// mismatch is Transaction, whose callback must receive the interface shape
// so that transactional writes go through the tx-bound store.
type SQLStore struct {
	*store.Store
}

// NewSQLStore wraps a store for pipeline use.
func NewSQLStore(s *store.Store) SQLStore {
	return SQLStore{Store: s}
}

func (s SQLStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.Store.Transaction(ctx, func(tx *store.Store) error {
		return fn(SQLStore{Store: tx})
	})
}
