package notifications_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"redub/internal/notifications"
)

type blockingNotifier struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	events []notifications.Payload
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingNotifier) Publish(ctx context.Context, _ notifications.Event, payload notifications.Payload) error {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	b.events = append(b.events, payload)
	b.mu.Unlock()
	return nil
}

func (b *blockingNotifier) received() []notifications.Payload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]notifications.Payload(nil), b.events...)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	notifier := newBlockingNotifier()
	d := notifications.NewDispatcher(notifier, 1, time.Minute, nil)
	ctx := context.Background()

	if err := d.Publish(ctx, notifications.EventStep, notifications.Payload{JobID: "a", Step: 1}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	<-notifier.started

	if err := d.Publish(ctx, notifications.EventStep, notifications.Payload{JobID: "a", Step: 2}); err != nil {
		t.Fatalf("second publish should fit the queue: %v", err)
	}

	start := time.Now()
	err := d.Publish(ctx, notifications.EventStep, notifications.Payload{JobID: "a", Step: 3})
	if !errors.Is(err, notifications.ErrDropped) {
		t.Fatalf("expected ErrDropped, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish blocked for %s", elapsed)
	}

	close(notifier.release)
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	got := notifier.received()
	if len(got) != 2 || got[0].Step != 1 || got[1].Step != 2 {
		t.Fatalf("unexpected deliveries %#v", got)
	}
	if d.Dropped() != 1 || d.Delivered() != 2 {
		t.Fatalf("dropped=%d delivered=%d", d.Dropped(), d.Delivered())
	}
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	notifier := newBlockingNotifier()
	close(notifier.release)
	d := notifications.NewDispatcher(notifier, 8, time.Minute, nil)
	for step := 1; step <= 5; step++ {
		if err := d.Publish(context.Background(), notifications.EventStep, notifications.Payload{JobID: "b", Step: step}); err != nil {
			t.Fatalf("publish %d: %v", step, err)
		}
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if got := notifier.received(); len(got) != 5 {
		t.Fatalf("expected 5 deliveries after drain, got %d", len(got))
	}

	if err := d.Publish(context.Background(), notifications.EventComplete, notifications.Payload{JobID: "b", Status: "COMPLETED"}); !errors.Is(err, notifications.ErrDropped) {
		t.Fatalf("expected ErrDropped after close, got %v", err)
	}
}

func TestDispatcherCloseHonoursContext(t *testing.T) {
	notifier := newBlockingNotifier()
	d := notifications.NewDispatcher(notifier, 1, time.Minute, nil)
	if err := d.Publish(context.Background(), notifications.EventStep, notifications.Payload{JobID: "c", Step: 1}); err != nil {
		t.Fatal(err)
	}
	<-notifier.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(notifier.release)
}

func TestDispatcherTimesOutSlowDelivery(t *testing.T) {
	notifier := newBlockingNotifier()
	d := notifications.NewDispatcher(notifier, 1, 20*time.Millisecond, nil)
	if err := d.Publish(context.Background(), notifications.EventStep, notifications.Payload{JobID: "d", Step: 1}); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if d.Delivered() != 0 || len(notifier.received()) != 0 {
		t.Fatalf("expected timed-out delivery, got %d", d.Delivered())
	}
}
