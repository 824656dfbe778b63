package core

import (
	"assetcore/internal/infra/persistence/memory"
	"assetcore/pkg/domain"
	"context"
	"sync"
	"time"
)

const (
	defaultPublishTimeout = 2 * time.Second
	defaultPublishBuffer  = 256
)

// ChangePublisher broadcasts commit notices to peer processes.
type ChangePublisher interface {
	Publish(ctx context.Context, notice domain.ChangeNotice) error
}

// ChangeSubscriber delivers notices published by any process, including this
// one, until ctx is done.
type ChangeSubscriber interface {
	StartForwarder(ctx context.Context, onNotice func(domain.ChangeNotice)) error
}

// ChangeFeed publishes a notice after every local commit and reloads the
// local store when a peer commits. Peers converge eventually; subscribers
// see the peer's writes after the next reload.
//
// Notices are queued and published from a single goroutine in commit order,
// so a slow broker never delays the committing caller. When the queue is
// full the notice is dropped with a warning; the next notice still makes
// peers reload the full state.
type ChangeFeed struct {
	origin  string
	pub     ChangePublisher
	logger  Logger
	now     func() time.Time
	timeout time.Duration
	buffer  int

	mu     sync.Mutex
	closed bool
	queue  chan domain.ChangeNotice
	done   chan struct{}
}

// ChangeFeedOption customises a ChangeFeed.
type ChangeFeedOption func(*ChangeFeed)

// WithPublishTimeout bounds each broker publish.
func WithPublishTimeout(d time.Duration) ChangeFeedOption {
	return func(f *ChangeFeed) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithPublishBuffer sets how many notices may wait for the broker.
func WithPublishBuffer(n int) ChangeFeedOption {
	return func(f *ChangeFeed) {
		if n > 0 {
			f.buffer = n
		}
	}
}

// NewChangeFeed wires a feed for the process identified by origin and starts
// its publisher. Close drains it.
func NewChangeFeed(origin string, pub ChangePublisher, logger Logger, opts ...ChangeFeedOption) *ChangeFeed {
	if logger == nil {
		logger = noopLogger{}
	}
	f := &ChangeFeed{
		origin:  origin,
		pub:     pub,
		logger:  logger,
		now:     ClockFunc(nil).Now,
		timeout: defaultPublishTimeout,
		buffer:  defaultPublishBuffer,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.queue = make(chan domain.ChangeNotice, f.buffer)
	go f.publishLoop()
	return f
}

// Origin identifies this process in published notices.
func (f *ChangeFeed) Origin() string {
	return f.origin
}

// CommitListener returns the memory store listener that queues notices.
// It never blocks; publish failures are logged by the publisher.
func (f *ChangeFeed) CommitListener() memory.CommitListener {
	return func(changes []Change) {
		if f.pub == nil || len(changes) == 0 {
			return
		}
		f.enqueue(domain.NoticeFor(f.origin, changes, f.now()))
	}
}

func (f *ChangeFeed) enqueue(notice domain.ChangeNotice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.logger.Warn("change notice dropped, feed closed", "origin", f.origin, "collections", notice.Collections)
		return
	}
	select {
	case f.queue <- notice:
	default:
		f.logger.Warn("change notice dropped, publish queue full", "origin", f.origin, "collections", notice.Collections)
	}
}

func (f *ChangeFeed) publishLoop() {
	defer close(f.done)
	for notice := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		err := f.pub.Publish(ctx, notice)
		cancel()
		if err != nil {
			f.logger.Warn("change notice publish failed", "origin", f.origin, "collections", notice.Collections, "error", err)
		}
	}
}

// Close stops accepting notices and waits until the queued ones are
// published or ctx is done.
func (f *ChangeFeed) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Follow starts reloading store on notices from other origins.
func (f *ChangeFeed) Follow(ctx context.Context, sub ChangeSubscriber, store Reloader) error {
	return sub.StartForwarder(ctx, func(notice domain.ChangeNotice) {
		f.handle(ctx, store, notice)
	})
}

func (f *ChangeFeed) handle(ctx context.Context, store Reloader, notice domain.ChangeNotice) {
	if notice.Origin == f.origin || store == nil {
		return
	}
	if err := store.Reload(ctx); err != nil {
		f.logger.Warn("store reload after peer commit failed", "peer", notice.Origin, "error", err)
		return
	}
	f.logger.Debug("store reloaded after peer commit", "peer", notice.Origin, "collections", notice.Collections)
}
