package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"redub/internal/logging"
)

// ErrDropped is returned by Publish when the delivery queue is full or closed.
var ErrDropped = errors.New("notification dropped")

type delivery struct {
	event   Event
	payload Payload
}

// Dispatcher queues events and delivers them on a background goroutine.
// Publish never blocks: when the queue is full the event is dropped and logged.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan delivery
	done   chan struct{}

	dropped   atomic.Int64
	delivered atomic.Int64
}

// NewDispatcher starts a dispatcher with a queue of queueSize events. Each
// delivery is bounded by timeout.
func NewDispatcher(notifier Notifier, queueSize int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		notifier: notifier,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "notifications"),
		queue:    make(chan delivery, queueSize),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues the event. The context is not used for delivery so that a
// cancelled job can still report its terminal state.
func (d *Dispatcher) Publish(_ context.Context, event Event, payload Payload) error {
	if err := validate(event, payload); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event, payload, "dispatcher closed")
		return ErrDropped
	}
	select {
	case d.queue <- delivery{event: event, payload: payload}:
		return nil
	default:
		d.drop(event, payload, "queue full")
		return ErrDropped
	}
}

// Close stops accepting events and waits for queued deliveries to finish or
// for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many events were discarded without delivery.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Delivered reports how many events were handed to the notifier successfully.
func (d *Dispatcher) Delivered() int64 { return d.delivered.Load() }

func (d *Dispatcher) run() {
	defer close(d.done)
	for item := range d.queue {
		d.deliver(item)
	}
}

func (d *Dispatcher) deliver(item delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.notifier.Publish(ctx, item.event, item.payload); err != nil {
		logging.WarnWithContext(d.logger, "notification delivery failed", "notification_failed",
			logging.String(logging.FieldJobID, item.payload.JobID),
			logging.String("event", string(item.event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check callbacks.step_url, callbacks.complete_url and the receiver logs"),
			logging.String(logging.FieldImpact, "status sink misses this update"),
		)
		return
	}
	d.delivered.Add(1)
}

func (d *Dispatcher) drop(event Event, payload Payload, reason string) {
	d.dropped.Add(1)
	logging.WarnWithContext(d.logger, "notification dropped", "notification_dropped",
		logging.String(logging.FieldJobID, payload.JobID),
		logging.String("event", string(event)),
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "raise callbacks.queue_size or check receiver latency"),
		logging.String(logging.FieldImpact, "status sink misses this update"),
	)
}
