// Package memory provides the in-memory transactional record store. It backs
// tests and ephemeral environments directly and serves as the working set
// for the durable sqlite and postgres stores.
package memory

import (
	"assetcore/pkg/domain"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Asset aliases domain.Asset for in-memory persistence operations.
	Asset = domain.Asset
	// Assignment aliases domain.Assignment.
	Assignment = domain.Assignment
	// HistoryEntry aliases domain.HistoryEntry.
	HistoryEntry = domain.HistoryEntry
	// MaintenanceRecord aliases domain.MaintenanceRecord.
	MaintenanceRecord = domain.MaintenanceRecord
	// Category aliases domain.Category.
	Category = domain.Category
	// User aliases domain.User.
	User = domain.User
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook runs after rules pass and before the new state becomes visible.
// Returning an error aborts the transaction with no observable writes.
type CommitHook func(ctx context.Context, changes []Change) error

// CommitListener observes committed changes after the state swap.
type CommitListener func(changes []Change)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.idFn = fn
		}
	}
}

// WithCommitHook appends a hook executed inside the commit critical section.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) {
		if hook != nil {
			s.hooks = append(s.hooks, hook)
		}
	}
}

// WithCommitListener appends a listener notified after each commit.
func WithCommitListener(listener CommitListener) Option {
	return func(s *Store) {
		if listener != nil {
			s.listeners = append(s.listeners, listener)
		}
	}
}

// Store provides an in-memory transactional store for the asset domain.
type Store struct {
	mu        sync.RWMutex
	state     memoryState
	engine    *RulesEngine
	nowFn     func() time.Time
	idFn      func() string
	hooks     []CommitHook
	listeners []CommitListener
	hub       *hub
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   uuid.NewString,
	}
	s.hub = newHub(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot and
// refreshes every subscriber.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	s.state = memoryStateFromSnapshot(snapshot)
	s.mu.Unlock()
	s.hub.notifyAll()
}

// ReplaceState swaps in the snapshot returned by load. load runs under the
// write lock, so no commit can land between reading the source and the swap.
// A failed load leaves the state untouched.
func (s *Store) ReplaceState(load func() (Snapshot, error)) error {
	if err := s.replaceState(load); err != nil {
		return err
	}
	s.hub.notifyAll()
	return nil
}

func (s *Store) replaceState(load func() (Snapshot, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := load()
	if err != nil {
		return err
	}
	s.state = memoryStateFromSnapshot(snapshot)
	return nil
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The copy replaces the committed state only when fn succeeds, no
// blocking rule violation is reported, and every commit hook succeeds.
// Subscribers and listeners are notified after the lock is released.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	changes, result, err := s.commit(ctx, fn)
	if err != nil {
		return result, err
	}
	s.publish(changes)
	return result, nil
}

func (s *Store) commit(ctx context.Context, fn func(tx Transaction) error) ([]Change, Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return nil, Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(&tx.state), tx.changes)
		if err != nil {
			return nil, Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return nil, res, domain.RuleViolationError{Result: res}
		}
	}

	if len(tx.changes) > 0 {
		for _, hook := range s.hooks {
			if err := hook(ctx, tx.changes); err != nil {
				return nil, result, err
			}
		}
	}
	s.state = tx.state
	return tx.changes, result, nil
}

func (s *Store) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.hub.notify(changes)
	for _, listener := range s.listeners {
		listener(changes)
	}
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

// Get returns a single document from committed state.
func (s *Store) Get(_ context.Context, ref domain.DocumentRef) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok, err := s.state.document(ref)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, &domain.NotFoundError{Entity: ref.Collection, ID: ref.ID}
	}
	return doc, nil
}

// Query evaluates q against committed state.
func (s *Store) Query(_ context.Context, q domain.Query) ([]domain.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs, err := s.state.documents(q.Collection, q.ParentID)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return domain.ApplyQuery(docs, q)
}

// Subscribe delivers the result set of q now and after every commit that
// touches its collection, until cancelled or ctx is done.
func (s *Store) Subscribe(ctx context.Context, q domain.Query, fn domain.SubscribeFunc) (domain.CancelFunc, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, domain.Invalidf("subscriber callback required")
	}
	return s.hub.add(ctx, q, fn), nil
}

// Documents returns every stored record in document form.
func (s *Store) Documents() ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Document
	for _, collection := range collections {
		docs, err := s.state.documents(collection, "")
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

// ImportDocuments replaces the store state with docs.
func (s *Store) ImportDocuments(docs []domain.Document) error {
	snapshot, err := SnapshotFromDocuments(docs)
	if err != nil {
		return err
	}
	s.ImportState(snapshot)
	return nil
}

// Close stops every subscription.
func (s *Store) Close() error {
	s.hub.closeAll()
	return nil
}

// Read helpers ---------------------------------------------------------------

// GetAsset retrieves an asset by ID from committed state.
func (s *Store) GetAsset(id string) (Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.assets[id]
	if !ok {
		return Asset{}, false
	}
	return cloneAsset(a), true
}

// ListAssets returns all assets from committed state.
func (s *Store) ListAssets() []Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListAssets()
}

// ListAssignments returns all assignments from committed state.
func (s *Store) ListAssignments() []Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListAssignments()
}

// ListHistory returns the history of an asset in write order.
func (s *Store) ListHistory(assetID string) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListHistory(assetID)
}

// ListMaintenance returns the maintenance records of an asset ordered by date.
func (s *Store) ListMaintenance(assetID string) []MaintenanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListMaintenance(assetID)
}
