package service

import (
	"context"

	"threadline.app/processor/core/db"
	"threadline.app/processor/internal/store"
)

// StoreProvider exposes the stores transactional operations need.
type StoreProvider interface {
	Discussions() store.DiscussionStore
	Jobs() store.JobStore
	Tasks() store.TaskStore
	UserMappings() store.UserMappingStore
}

// TxRunner runs functions within a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner creates a TxRunner backed by the given database.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q db.Querier) error {
		return fn(store.NewStores(q))
	})
}
