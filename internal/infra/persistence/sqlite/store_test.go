package sqlite

import (
	"assetcore/pkg/domain"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func seed(t *testing.T, store *Store) (assetID string) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		a, err := tx.CreateAsset(domain.Asset{Name: "Laptop", Status: domain.StatusAvailable})
		if err != nil {
			return err
		}
		assetID = a.ID
		_, err = tx.AppendHistory(domain.HistoryEntry{AssetID: a.ID, Type: domain.HistoryPurchase, Description: "bought"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return assetID
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	assetID := seed(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if got := len(reloaded.ListAssets()); got != 1 {
		t.Fatalf("expected 1 asset, got %d", got)
	}
	history := reloaded.ListHistory(assetID)
	if len(history) != 1 || history[0].Description != "bought" {
		t.Fatalf("history not restored: %+v", history)
	}
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
}

func TestSQLiteStoreWritesOnlyChangedDocuments(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	assetID := seed(t, store)

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateAsset(assetID, func(a *domain.Asset) error {
			a.Location = "HQ"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	var count int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected asset and history rows, got %d", count)
	}
	var payload string
	if err := store.DB().QueryRow("SELECT payload FROM documents WHERE doc_key = ?", "assets/"+assetID).Scan(&payload); err != nil {
		t.Fatalf("select asset: %v", err)
	}
	doc := domain.Document{Data: []byte(payload)}
	var asset domain.Asset
	if err := doc.Decode(&asset); err != nil || asset.Location != "HQ" {
		t.Fatalf("unexpected stored asset %+v err=%v", asset, err)
	}
}

func TestSQLiteStoreFailedWriteLeavesStateUntouched(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	seed(t, store)
	_ = store.DB().Close()

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateAsset(domain.Asset{Name: "Desk"})
		return e
	})
	if err == nil {
		t.Fatalf("expected write failure on closed database")
	}
	if got := len(store.ListAssets()); got != 1 {
		t.Fatalf("failed commit leaked into memory: %d assets", got)
	}
}

func TestSQLiteStoreReloadPicksUpExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	writer, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = writer.Close() })
	reader, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	t.Cleanup(func() { _ = reader.Close() })

	got := make(chan int, 8)
	cancel, err := reader.Subscribe(context.Background(), domain.Query{Collection: domain.EntityAsset}, func(docs []domain.Document, err error) {
		if err == nil {
			got <- len(docs)
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	seed(t, writer)
	if err := reader.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-got:
			if n == 1 {
				return
			}
		case <-deadline:
			t.Fatalf("reader never observed the external write")
		}
	}
}

func TestReloadDuringCommitsKeepsEveryWrite(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			if err := store.Reload(context.Background()); err != nil {
				t.Errorf("reload: %v", err)
				return
			}
		}
	}()

	const commits = 100
	for i := 0; i < commits; i++ {
		_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			_, err := tx.CreateAsset(domain.Asset{Name: "Chair", Status: domain.StatusAvailable})
			return err
		})
		if err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	cancel()
	wg.Wait()

	if got := len(store.ListAssets()); got != commits {
		t.Fatalf("working set holds %d of %d committed assets", got, commits)
	}
}
