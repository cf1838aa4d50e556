package repository

import (
	"context"

	"github.com/uptrace/bun"
)

// BunStore implements Store over a bun.DB or, inside RunInTx, a bun.Tx.
type BunStore struct {
	db       *bun.DB
	idb      bun.IDB
	accounts *BunAccountRepository
	systems  *BunSystemRepository
	grants   *BunGrantRepository
}

// NewBunStore creates a Store backed by db.
func NewBunStore(db *bun.DB) *BunStore {
	return newBunStore(db, db)
}

func newBunStore(db *bun.DB, idb bun.IDB) *BunStore {
	return &BunStore{
		db:       db,
		idb:      idb,
		accounts: NewBunAccountRepository(idb),
		systems:  NewBunSystemRepository(idb),
		grants:   NewBunGrantRepository(idb),
	}
}

func (s *BunStore) Accounts() AccountRepository { return s.accounts }
func (s *BunStore) Systems() SystemRepository   { return s.systems }
func (s *BunStore) Grants() GrantRepository     { return s.grants }

// RunInTx runs fn in a database transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Nested calls reuse the outer
// transaction.
func (s *BunStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if _, inTx := s.idb.(bun.Tx); inTx {
		return fn(ctx, s)
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, newBunStore(s.db, tx))
	})
}
