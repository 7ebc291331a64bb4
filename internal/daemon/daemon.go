package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"redub/internal/config"
	"redub/internal/jobs"
	"redub/internal/logging"
	"redub/internal/pipeline"
	"redub/internal/services"
)

// JobRunner executes one job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error)
}

// Daemon polls for pending jobs and serves the HTTP API. Only one daemon may
// run per state directory.
type Daemon struct {
	cfg    *config.Config
	store  *jobs.Store
	runner JobRunner
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	maxJobs      int
	pollInterval time.Duration
	wake         chan struct{}

	mu      sync.Mutex
	active  map[string]time.Time
	lastErr error

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Since        time.Time
	ActiveJobs   []string
	MaxJobs      int
	Counts       map[jobs.Status]int
	LastError    string
	DatabasePath string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, runner JobRunner, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || runner == nil {
		return nil, errors.New("daemon requires config, job store and runner")
	}
	maxJobs := cfg.Workflow.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 1
	}
	poll := cfg.PollInterval()
	if poll <= 0 {
		poll = 5 * time.Second
	}
	d := &Daemon{
		cfg:          cfg,
		store:        store,
		runner:       runner,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		lockPath:     cfg.LockPath(),
		lock:         flock.New(cfg.LockPath()),
		maxJobs:      maxJobs,
		pollInterval: poll,
		wake:         make(chan struct{}, 1),
		active:       make(map[string]time.Time),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, resets jobs a crashed process left
// PROCESSING, and launches the poller and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another redub daemon instance is already running")
	}

	reset, err := d.store.ResetStuckProcessing(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	if reset > 0 {
		logging.WarnWithContext(d.logger, "requeued jobs interrupted by a previous run", "jobs_requeued",
			logging.Int64("count", reset),
			logging.String(logging.FieldErrorHint, "check the previous daemon log for the crash cause"),
			logging.String(logging.FieldImpact, "interrupted jobs restart from the first stage"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.started = time.Now()
	d.running.Store(true)

	d.wg.Add(1)
	go d.pollLoop(runCtx)

	d.logger.Info("redub daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("max_concurrent_jobs", d.maxJobs),
		logging.Duration("poll_interval", d.pollInterval),
	)
	return nil
}

// Stop cancels running jobs, waits for them to record their outcome, and
// releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("redub daemon stopped")
}

// Wake asks the poller to look for pending jobs now.
func (d *Daemon) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Submit creates a PENDING job and wakes the poller.
func (d *Daemon) Submit(ctx context.Context, req jobs.NewJob) (*jobs.Job, error) {
	job, err := d.store.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	logging.WithContext(services.WithJobID(ctx, job.ID), d.logger).Info("job submitted",
		logging.String("source_key", job.SourceKey),
		logging.String("target_language", job.TargetLanguage),
	)
	d.Wake()
	return job, nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	counts, err := d.store.Stats(ctx)
	if err != nil {
		d.setLastError(err)
	}
	d.mu.Lock()
	active := make([]string, 0, len(d.active))
	for id := range d.active {
		active = append(active, id)
	}
	var lastErr string
	if d.lastErr != nil {
		lastErr = d.lastErr.Error()
	}
	d.mu.Unlock()
	sort.Strings(active)

	return Status{
		Running:      d.running.Load(),
		Since:        d.started,
		ActiveJobs:   active,
		MaxJobs:      d.maxJobs,
		Counts:       counts,
		LastError:    lastErr,
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
}

// APIAddress is the bound API address, or "" when the API is disabled.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

func (d *Daemon) pollLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		d.dispatchPending(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-time.After(d.pollInterval):
		}
	}
}

// dispatchPending claims as many PENDING jobs as there are free slots.
func (d *Daemon) dispatchPending(ctx context.Context) {
	free := d.maxJobs - d.activeCount()
	if free <= 0 || ctx.Err() != nil {
		return
	}
	pending, err := d.store.NextPending(ctx, free)
	if err != nil {
		if ctx.Err() == nil {
			d.setLastError(err)
			logging.ErrorWithContext(d.logger, "failed to fetch pending jobs", "job_fetch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check job database access"),
			)
		}
		return
	}
	for _, job := range pending {
		claimed, err := d.store.Claim(ctx, job.ID)
		if err != nil {
			d.setLastError(err)
			d.logger.Error("failed to claim job", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		d.markActive(job.ID)
		d.wg.Add(1)
		go d.runJob(ctx, job)
	}
}

func (d *Daemon) runJob(ctx context.Context, job *jobs.Job) {
	defer d.wg.Done()
	defer func() {
		d.markDone(job.ID)
		d.Wake()
	}()

	outcome, err := d.runner.Run(ctx, pipeline.Request{
		JobID:          job.ID,
		SourceKey:      job.SourceKey,
		TargetLanguage: job.TargetLanguage,
		VoicePresetID:  job.VoicePresetID,
		Glossary:       job.Glossary,
	})
	logger := logging.WithContext(services.WithJobID(context.WithoutCancel(ctx), job.ID), d.logger)
	if err != nil {
		d.setLastError(err)
		logger.Info("job finished with failure",
			logging.String("status", string(outcome.Status)),
			logging.String("failed_stage", outcome.FailedStage),
			logging.Duration("elapsed", outcome.Elapsed),
		)
		return
	}
	logger.Info("job finished",
		logging.String("status", string(outcome.Status)),
		logging.String("output_key", outcome.OutputKey),
		logging.Duration("elapsed", outcome.Elapsed),
	)
}

func (d *Daemon) activeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Daemon) markActive(id string) {
	d.mu.Lock()
	d.active[id] = time.Now()
	d.mu.Unlock()
}

func (d *Daemon) markDone(id string) {
	d.mu.Lock()
	delete(d.active, id)
	d.mu.Unlock()
}

func (d *Daemon) setLastError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}
