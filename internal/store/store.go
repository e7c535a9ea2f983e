// Package store implements the Postgres-backed persistence layer: one
// repository per table, plus a Store that bundles them and exposes a
// transactional view used by the command engine to apply a batch of
// commands atomically.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/flowcraft/dataflow/internal/db"
)

// Store bundles the repositories over a pooled connection.
type Store struct {
	DB        *db.DB
	Dataflows *DataflowRepository
	Nodes     *NodeRepository
	Data      *DataRepository
	Commits   *CommitRepository
}

// New builds a Store backed by the given pool.
func New(database *db.DB) *Store {
	return &Store{
		DB:        database,
		Dataflows: NewDataflowRepository(database.Pool),
		Nodes:     NewNodeRepository(database.Pool),
		Data:      NewDataRepository(database.Pool),
		Commits:   NewCommitRepository(database.Pool),
	}
}

// Tx is a Store bound to a single transaction: every repository call within
// it sees the same uncommitted writes.
type Tx struct {
	Dataflows *DataflowRepository
	Nodes     *NodeRepository
	Data      *DataRepository
	Commits   *CommitRepository
}

// WithTx runs fn with a Tx view of the store, committing on success.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.DB.WithTx(ctx, func(pgxTx pgx.Tx) error {
		return fn(&Tx{
			Dataflows: NewDataflowRepository(pgxTx),
			Nodes:     NewNodeRepository(pgxTx),
			Data:      NewDataRepository(pgxTx),
			Commits:   NewCommitRepository(pgxTx),
		})
	})
}
