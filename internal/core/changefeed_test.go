package core

import (
	"assetcore/internal/infra/persistence/memory"
	"assetcore/pkg/domain"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingPublisher struct {
	mu      sync.Mutex
	notices []domain.ChangeNotice
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, notice domain.ChangeNotice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, notice)
	return p.err
}

func (p *recordingPublisher) published() []domain.ChangeNotice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ChangeNotice(nil), p.notices...)
}

// blockingPublisher holds every publish until release is closed.
type blockingPublisher struct {
	recordingPublisher
	started chan struct{}
	release chan struct{}
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (p *blockingPublisher) Publish(ctx context.Context, notice domain.ChangeNotice) error {
	select {
	case p.started <- struct{}{}:
	default:
	}
	<-p.release
	return p.recordingPublisher.Publish(ctx, notice)
}

func closeFeed(t *testing.T, feed *ChangeFeed) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := feed.Close(ctx); err != nil {
		t.Fatalf("close feed: %v", err)
	}
}

// loopbackSubscriber replays the notices handed to deliver.
type loopbackSubscriber struct {
	onNotice func(domain.ChangeNotice)
}

func (s *loopbackSubscriber) StartForwarder(_ context.Context, onNotice func(domain.ChangeNotice)) error {
	s.onNotice = onNotice
	return nil
}

type countingReloader struct {
	calls int
	err   error
}

func (r *countingReloader) Reload(context.Context) error {
	r.calls++
	return r.err
}

func TestChangeFeedPublishesCommits(t *testing.T) {
	pub := &recordingPublisher{}
	feed := NewChangeFeed("node-a", pub, nil)
	store := memory.NewStore(NewDefaultRulesEngine(), memory.WithCommitListener(feed.CommitListener()))
	svc := NewService(store)

	out, err := svc.CreateAssetWithAssignment(context.Background(), testSession, Asset{Name: "A"}, &AssignmentInput{AssignedTo: "Hong"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ReturnAsset(context.Background(), testSession, out.Asset.ID, "", ""); err != nil {
		t.Fatalf("return: %v", err)
	}
	if _, err := svc.ReturnAsset(context.Background(), testSession, out.Asset.ID, "", ""); err == nil {
		t.Fatal("expected second return to fail")
	}
	closeFeed(t, feed)

	notices := pub.published()
	if len(notices) != 2 {
		t.Fatalf("expected one notice per successful commit, got %d", len(notices))
	}
	notice := notices[0]
	want := []domain.EntityType{EntityAsset, EntityAssignment, EntityHistory}
	if notice.Origin != "node-a" || len(notice.Collections) != len(want) {
		t.Fatalf("unexpected notice %+v", notice)
	}
	for _, c := range want {
		found := false
		for _, got := range notice.Collections {
			if got == c {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %s in notice collections %v", c, notice.Collections)
		}
	}
}

func TestChangeFeedPublishFailureIsLogged(t *testing.T) {
	logger := &captureLogger{}
	pub := &recordingPublisher{err: errors.New("redis down")}
	feed := NewChangeFeed("node-a", pub, logger)
	store := memory.NewStore(NewDefaultRulesEngine(), memory.WithCommitListener(feed.CommitListener()))
	if _, err := NewService(store).CreateAssetWithAssignment(context.Background(), testSession, Asset{Name: "A"}, nil); err != nil {
		t.Fatalf("expected commit to succeed despite publish failure: %v", err)
	}
	closeFeed(t, feed)
	if logger.count("w") != 1 {
		t.Fatalf("expected a warning, got %v", logger.calls)
	}

	feed.CommitListener()([]Change{{Entity: EntityAsset}})
	if logger.count("w") != 2 {
		t.Fatalf("expected notices after close to be dropped with a warning, got %v", logger.calls)
	}
	NewChangeFeed("node-b", nil, nil).CommitListener()([]Change{{Entity: EntityAsset}})
}

func TestChangeFeedSlowBrokerDoesNotBlockCommits(t *testing.T) {
	logger := &captureLogger{}
	pub := newBlockingPublisher()
	feed := NewChangeFeed("node-a", pub, logger, WithPublishBuffer(1))
	store := memory.NewStore(NewDefaultRulesEngine(), memory.WithCommitListener(feed.CommitListener()))
	svc := NewService(store)

	if _, err := svc.CreateAssetWithAssignment(context.Background(), testSession, Asset{Name: "A"}, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-pub.started:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher never picked up the first notice")
	}

	done := make(chan error, 1)
	go func() {
		for _, name := range []string{"B", "C"} {
			if _, err := svc.CreateAssetWithAssignment(context.Background(), testSession, Asset{Name: name}, nil); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("commits blocked behind a stalled publish")
	}
	if logger.count("w") != 1 {
		t.Fatalf("expected the overflowing notice to be dropped with a warning, got %v", logger.calls)
	}

	close(pub.release)
	closeFeed(t, feed)
	if got := len(pub.published()); got != 2 {
		t.Fatalf("expected queued notices published after release, got %d", got)
	}
}

func TestChangeFeedFollowReloadsOnPeerNotices(t *testing.T) {
	logger := &captureLogger{}
	feed := NewChangeFeed("node-a", nil, logger)
	if feed.Origin() != "node-a" {
		t.Fatalf("unexpected origin %q", feed.Origin())
	}
	sub := &loopbackSubscriber{}
	reloader := &countingReloader{}
	if err := feed.Follow(context.Background(), sub, reloader); err != nil {
		t.Fatalf("follow: %v", err)
	}

	sub.onNotice(domain.ChangeNotice{Origin: "node-a", Collections: []domain.EntityType{EntityAsset}})
	if reloader.calls != 0 {
		t.Fatalf("expected own notices ignored")
	}
	sub.onNotice(domain.ChangeNotice{Origin: "node-b", Collections: []domain.EntityType{EntityAsset}})
	if reloader.calls != 1 {
		t.Fatalf("expected reload on peer notice, got %d", reloader.calls)
	}
	reloader.err = errors.New("db gone")
	sub.onNotice(domain.ChangeNotice{Origin: "node-c"})
	if reloader.calls != 2 || logger.count("w") != 1 {
		t.Fatalf("expected failed reload to be logged, calls=%d logs=%v", reloader.calls, logger.calls)
	}

	feed.handle(context.Background(), nil, domain.ChangeNotice{Origin: "node-b"})
}
