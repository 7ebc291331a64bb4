package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"redub/internal/config"
	"redub/internal/jobs"
	"redub/internal/logging"
	"redub/internal/notifications"
	"redub/internal/pipeline"
)

const dispatcherDrainTimeout = 15 * time.Second

// runtime bundles the orchestrator with the notification dispatcher that has
// to be drained before the process exits.
type runtime struct {
	orchestrator *pipeline.Orchestrator
	dispatcher   *notifications.Dispatcher
	logger       *slog.Logger
}

func newRuntime(cfg *config.Config, store *jobs.Store, logger *slog.Logger) (*runtime, error) {
	backends, err := pipeline.NewBackends(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("configure backends: %w", err)
	}
	dispatcher := notifications.NewDispatcher(
		notifications.NewService(cfg),
		cfg.Callbacks.QueueSize,
		config.Seconds(cfg.Callbacks.RequestTimeout, 10*time.Second),
		logger,
	)
	orchestrator, err := pipeline.New(store, backends, dispatcher, pipeline.OptionsFromConfig(cfg), logger)
	if err != nil {
		_ = dispatcher.Close(context.Background())
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	return &runtime{orchestrator: orchestrator, dispatcher: dispatcher, logger: logger}, nil
}

func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), dispatcherDrainTimeout)
	defer cancel()
	if err := r.dispatcher.Close(ctx); err != nil {
		logging.WarnWithContext(r.logger, "notification queue not drained", "notifications_abandoned",
			logging.Error(err),
			logging.Int64("delivered", r.dispatcher.Delivered()),
			logging.Int64("dropped", r.dispatcher.Dropped()),
			logging.String(logging.FieldImpact, "some status callbacks were not sent"),
		)
	}
}
