// Package docstore maps committed record changes onto a single SQL
// documents table shared by the sqlite and postgres backends.
package docstore

import (
	"assetcore/pkg/domain"
	"context"
	"database/sql"
	"fmt"
)

// Table is the name of the documents table.
const Table = "documents"

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name        string
	PayloadType string
	placeholder func(n int) string
}

// SQLite uses positional question-mark placeholders and BLOB payloads.
var SQLite = Dialect{Name: "sqlite", PayloadType: "BLOB", placeholder: func(int) string { return "?" }}

// Postgres uses numbered placeholders and JSONB payloads.
var Postgres = Dialect{Name: "postgres", PayloadType: "JSONB", placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }}

func (d Dialect) args(n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ","
		}
		out += d.placeholder(i)
	}
	return out
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EnsureSchema creates the documents table when absent.
func EnsureSchema(ctx context.Context, db Execer, d Dialect) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		doc_key TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		id TEXT NOT NULL,
		payload %s NOT NULL
	)`, Table, d.PayloadType)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure %s table: %w", Table, err)
	}
	return nil
}

// Load reads every stored document.
func Load(ctx context.Context, db *sql.DB) ([]domain.Document, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT doc_key, collection, parent_id, id, payload FROM %s`, Table))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", Table, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []domain.Document
	for rows.Next() {
		var (
			key, collection, parentID, id string
			payload                       []byte
		)
		if err := rows.Scan(&key, &collection, &parentID, &id, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", Table, err)
		}
		doc := domain.Document{
			DocumentRef: domain.DocumentRef{Collection: domain.EntityType(collection), ParentID: parentID, ID: id},
			Data:        append([]byte(nil), payload...),
		}
		if doc.Path() != key {
			return nil, fmt.Errorf("document key %q does not match %q", key, doc.Path())
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", Table, err)
	}
	return docs, nil
}

// Apply writes exactly the changed documents in one SQL transaction. Later
// changes to the same document win.
func Apply(ctx context.Context, db *sql.DB, d Dialect, changes []domain.Change) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := applyChanges(ctx, tx, d, changes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func applyChanges(ctx context.Context, exec Execer, d Dialect, changes []domain.Change) error {
	upsert := fmt.Sprintf(`INSERT INTO %s (doc_key, collection, parent_id, id, payload) VALUES (%s) ON CONFLICT (doc_key) DO UPDATE SET payload = excluded.payload`, Table, d.args(5))
	remove := fmt.Sprintf(`DELETE FROM %s WHERE doc_key = %s`, Table, d.placeholder(1))
	for _, change := range changes {
		ref := change.Ref()
		key := ref.Path()
		if change.Action == domain.ActionDelete {
			if _, err := exec.ExecContext(ctx, remove, key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			continue
		}
		payload := change.After.Raw()
		if payload == nil {
			return fmt.Errorf("change for %s carries no payload", key)
		}
		if _, err := exec.ExecContext(ctx, upsert, key, string(ref.Collection), ref.ParentID, ref.ID, string(payload)); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}
	return nil
}
