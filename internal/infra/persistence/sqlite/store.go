// Package sqlite provides the SQLite-backed record store. Committed changes
// are written per document inside the in-memory store's commit critical
// section, so a failed write leaves both sides untouched.
package sqlite

import (
	"assetcore/internal/infra/persistence/docstore"
	"assetcore/internal/infra/persistence/memory"
	"assetcore/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "assetcore.db"

// Store persists records to a SQLite documents table.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and hydrates the working
// set from it.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps the file lock simple.
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	if err := docstore.EnsureSchema(ctx, db, docstore.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, path: path}
	opts = append(opts, memory.WithCommitHook(s.persist))
	s.Store = memory.NewStore(engine, opts...)
	if err := s.Reload(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) persist(ctx context.Context, changes []domain.Change) error {
	return docstore.Apply(ctx, s.db, docstore.SQLite, changes)
}

// Reload replaces the working set with the database contents and refreshes
// subscribers. The table is read under the store's write lock so local
// commits cannot slip between the read and the swap.
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

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
