package core

import (
	"assetcore/internal/infra/persistence/memory"
	"assetcore/pkg/domain"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var testSession = Session{UserID: "u-1", AuthUID: "uid-1", DisplayName: "Kim"}

func fixedClock() ClockFunc {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return base }
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{WithClock(fixedClock())}, opts...)
	return NewInMemoryService(NewDefaultRulesEngine(), opts...)
}

func mustChangePayload[T any](t *testing.T, value T) domain.ChangePayload {
	t.Helper()
	payload, err := domain.NewChangePayloadFromValue(value)
	if err != nil {
		t.Fatalf("build change payload: %v", err)
	}
	return payload
}

func mustCreateAsset(t *testing.T, svc *Service, name string, in *AssignmentInput) Outcome {
	t.Helper()
	out, err := svc.CreateAssetWithAssignment(context.Background(), testSession, Asset{
		Name:         name,
		Category:     "laptop",
		SerialNumber: "SN-" + name,
	}, in)
	if err != nil {
		t.Fatalf("create asset %s: %v", name, err)
	}
	return out
}

func historyTypes(entries []HistoryEntry) []domain.HistoryType {
	out := make([]domain.HistoryType, len(entries))
	for i, e := range entries {
		out[i] = e.Type
	}
	return out
}

// checkInvariants asserts the status/assignment invariants across the store.
func checkInvariants(t *testing.T, svc *Service) {
	t.Helper()
	_ = svc.Store().View(context.Background(), func(v domain.TransactionView) error {
		for _, a := range v.ListAssets() {
			inUse := a.Status == domain.StatusInUse
			if inUse != (a.CurrentAssignmentID != nil) {
				t.Fatalf("asset %s: status %s with current assignment %v", a.ID, a.Status, a.CurrentAssignmentID)
			}
			if n := len(v.ActiveAssignmentsFor(a.ID)); n > 1 {
				t.Fatalf("asset %s has %d active assignments", a.ID, n)
			}
		}
		return nil
	})
}

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) record(level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, level+":"+msg)
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.record("d", msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.record("i", msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.record("w", msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.record("e", msg) }

func (c *captureLogger) count(level string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if len(call) > len(level) && call[:len(level)+1] == level+":" {
			n++
		}
	}
	return n
}

// fakePersistentStore satisfies domain.PersistentStore without state.
type fakePersistentStore struct{}

func (f *fakePersistentStore) RunInTransaction(context.Context, func(domain.Transaction) error) (domain.Result, error) {
	return domain.Result{}, nil
}

func (f *fakePersistentStore) View(context.Context, func(domain.TransactionView) error) error {
	return nil
}

func (f *fakePersistentStore) Get(_ context.Context, ref domain.DocumentRef) (domain.Document, error) {
	return domain.Document{}, &domain.NotFoundError{Entity: ref.Collection, ID: ref.ID}
}

func (f *fakePersistentStore) Query(context.Context, domain.Query) ([]domain.Document, error) {
	return nil, nil
}

func (f *fakePersistentStore) Subscribe(context.Context, domain.Query, domain.SubscribeFunc) (domain.CancelFunc, error) {
	return func() {}, nil
}

type providerStore struct {
	*fakePersistentStore
	engine *domain.RulesEngine
	now    func() time.Time
}

func (p *providerStore) RulesEngine() *domain.RulesEngine { return p.engine }

func (p *providerStore) NowFunc() func() time.Time { return p.now }

var errInjected = errors.New("injected write failure")

// faultyStore fails the first history append of the given type inside a
// transaction, after the other writes of that transaction have been made.
type faultyStore struct {
	*memory.Store
	failHistory domain.HistoryType
}

func (f *faultyStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return f.Store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return fn(&faultyTx{Transaction: tx, failHistory: f.failHistory})
	})
}

type faultyTx struct {
	domain.Transaction
	failHistory domain.HistoryType
}

func (tx *faultyTx) AppendHistory(h HistoryEntry) (HistoryEntry, error) {
	if h.Type == tx.failHistory {
		return HistoryEntry{}, fmt.Errorf("append %s: %w", h.Type, errInjected)
	}
	return tx.Transaction.AppendHistory(h)
}

// blockingStore parks every transaction until release is closed.
type blockingStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.Store.RunInTransaction(ctx, fn)
}
