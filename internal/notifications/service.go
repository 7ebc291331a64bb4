package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"redub/internal/config"
)

const userAgent = "Redub-Go/0.1.0"

// Event identifies the kind of notification being published.
type Event string

const (
	// EventStep reports that a numbered stage has started.
	EventStep Event = "step"
	// EventComplete reports the terminal outcome of a run.
	EventComplete Event = "complete"
)

// Payload carries the fields of a step or completion event.
type Payload struct {
	JobID     string
	Step      int
	StepLabel string
	Status    string
	OutputKey string
	Error     string
}

// Notifier publishes one event. Implementations must be safe for concurrent use.
type Notifier interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds the notifier set described by cfg. Unconfigured channels
// are skipped; when nothing is configured a no-op notifier is returned.
func NewService(cfg *config.Config) Notifier {
	if cfg == nil {
		return noopNotifier{}
	}
	var notifiers []Notifier
	if webhook := newWebhook(cfg.Callbacks); webhook != nil {
		notifiers = append(notifiers, webhook)
	}
	if ntfy := newNtfy(cfg.Notifications); ntfy != nil {
		notifiers = append(notifiers, ntfy)
	}
	switch len(notifiers) {
	case 0:
		return noopNotifier{}
	case 1:
		return notifiers[0]
	default:
		return multiNotifier(notifiers)
	}
}

func requestTimeout(seconds int) time.Duration {
	timeout := time.Duration(seconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return timeout
}

type multiNotifier []Notifier

// Publish delivers to every notifier and joins their errors.
func (m multiNotifier) Publish(ctx context.Context, event Event, payload Payload) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, Event, Payload) error { return nil }

func validate(event Event, payload Payload) error {
	if strings.TrimSpace(payload.JobID) == "" {
		return errors.New("notification missing job id")
	}
	switch event {
	case EventStep, EventComplete:
		return nil
	default:
		return fmt.Errorf("unknown notification event %q", event)
	}
}
