package store

import (
	"context"
	"database/sql"

	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/orders"
)

// Store is the Postgres implementation of orders.Store. Units of work run at
// READ COMMITTED; counters are protected by conditional updates and order rows
// by SELECT ... FOR UPDATE, and the whole unit is retried on deadlock or
// serialization failure.
type Store struct {
	db   *sql.DB
	opts database.TxOptions
}

var _ orders.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db, opts: database.DefaultTxOptions()}
}

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	return database.WithRetry(ctx, s.db, s.opts, func(sqlTx *sql.Tx) error {
		return fn(&Tx{tx: sqlTx})
	})
}

func (s *Store) View(ctx context.Context, fn func(tx orders.Tx) error) error {
	return database.WithTransaction(ctx, s.db, database.ReadOnlyTxOptions(), func(sqlTx *sql.Tx) error {
		return fn(&Tx{tx: sqlTx})
	})
}

type Tx struct {
	tx *sql.Tx
}

var _ orders.Tx = (*Tx)(nil)

func (t *Tx) execOne(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}
