package memory

import (
	"assetcore/pkg/domain"
	"context"
	"sync"
)

// hub fans committed changes out to live query subscriptions. Each
// subscription re-evaluates its query on its own goroutine; notifications
// arriving while a delivery is in progress collapse into one re-run.
type hub struct {
	store *Store
	mu    sync.Mutex
	next  uint64
	subs  map[uint64]*subscription
}

type subscription struct {
	id      uint64
	query   domain.Query
	fn      domain.SubscribeFunc
	pending chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newHub(store *Store) *hub {
	return &hub{store: store, subs: make(map[uint64]*subscription)}
}

func (h *hub) add(ctx context.Context, q domain.Query, fn domain.SubscribeFunc) domain.CancelFunc {
	sub := &subscription{
		query:   q,
		fn:      fn,
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.next++
	sub.id = h.next
	h.subs[sub.id] = sub
	h.mu.Unlock()

	sub.pending <- struct{}{}
	go h.run(ctx, sub)
	return func() { h.remove(sub) }
}

func (h *hub) run(ctx context.Context, sub *subscription) {
	defer h.remove(sub)
	for {
		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		case <-sub.pending:
		}
		docs, err := h.evaluate(ctx, sub.query)
		select {
		case <-sub.done:
			return
		default:
		}
		sub.fn(docs, err)
	}
}

func (h *hub) evaluate(ctx context.Context, q domain.Query) ([]domain.Document, error) {
	docs, err := h.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.ID != "" && len(docs) == 0 {
		return nil, &domain.NotFoundError{Entity: q.Collection, ID: q.ID}
	}
	return docs, nil
}

func (h *hub) remove(sub *subscription) {
	sub.once.Do(func() {
		close(sub.done)
		h.mu.Lock()
		delete(h.subs, sub.id)
		h.mu.Unlock()
	})
}

// notify wakes subscriptions whose collection appears in changes.
func (h *hub) notify(changes []Change) {
	touched := make(map[domain.EntityType]struct{}, len(changes))
	for _, c := range changes {
		touched[c.Entity] = struct{}{}
	}
	h.wake(func(sub *subscription) bool {
		_, ok := touched[sub.query.Collection]
		return ok
	})
}

func (h *hub) notifyAll() {
	h.wake(func(*subscription) bool { return true })
}

func (h *hub) wake(match func(*subscription) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if !match(sub) {
			continue
		}
		select {
		case sub.pending <- struct{}{}:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.remove(sub)
	}
}

// Subscribers reports the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return len(s.hub.subs)
}
