// Package ledger is the persistent store for pools, positions, charges and distributions.
//
// Every multi-row mutation runs inside InTx. GetPoolForUpdate takes the pool row lock that
// serializes purchases, confirmations, ownership recalculation and distribution snapshots
// for one pool.
package ledger

import (
	"context"
	"errors"

	"coinvest-backend/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
	// rowLocks is false on SQLite, which serializes writers on its single connection instead.
	rowLocks bool
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, rowLocks: db.Dialector.Name() == "postgres"}
}

// DB exposes the underlying handle for health checks and migrations.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// InTx runs fn in one database transaction. fn's error rolls everything back.
// Do not call Read from inside fn: on SQLite the outer transaction owns the only connection.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Tx{db: db, rowLocks: s.rowLocks})
	})
}

// Read returns a non-transactional view for queries that need no lock.
func (s *Store) Read(ctx context.Context) *Tx {
	return &Tx{db: s.db.WithContext(ctx), rowLocks: s.rowLocks}
}

// Tx is a ledger handle bound to one transaction (or to a plain read view).
type Tx struct {
	db       *gorm.DB
	rowLocks bool
}

func (t *Tx) forUpdate() *gorm.DB {
	if !t.rowLocks {
		return t.db
	}
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func notFound(err error, target *domain.Error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}
