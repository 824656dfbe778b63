// Package postgres provides a Postgres-backed record store that mirrors the
// in-memory semantics and writes each commit's changed documents in one SQL
// transaction.
package postgres

import (
	"assetcore/internal/infra/persistence/docstore"
	"assetcore/internal/infra/persistence/memory"
	"assetcore/pkg/domain"
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/assetcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists records to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the documents table exists and hydrates the in-memory store from it.
func NewStore(dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := docstore.EnsureSchema(ctx, db, docstore.Postgres); err != nil {
		return nil, err
	}
	s := &Store{db: db}
	opts = append(opts, memory.WithCommitHook(s.persist))
	s.Store = memory.NewStore(engine, opts...)
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) persist(ctx context.Context, changes []domain.Change) error {
	return docstore.Apply(ctx, s.db, docstore.Postgres, changes)
}

// Reload replaces the working set with the database contents. Peers call it
// when another process reports a commit. The read happens under the store's
// write lock, so a concurrent local commit is either fully in the table or
// not yet started.
func (s *Store) Reload(ctx context.Context) error {
	return s.ReplaceState(func() (memory.Snapshot, error) {
		docs, err := docstore.Load(ctx, s.db)
		if err != nil {
			return memory.Snapshot{}, err
		}
		return memory.SnapshotFromDocuments(docs)
	})
}

// Close stops subscriptions and closes the database.
func (s *Store) Close() error {
	_ = s.Store.Close()
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
