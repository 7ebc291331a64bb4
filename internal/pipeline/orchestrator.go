package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"redub/internal/aligner"
	"redub/internal/config"
	"redub/internal/jobs"
	"redub/internal/logging"
	"redub/internal/notifications"
	"redub/internal/segments"
	"redub/internal/services"
	"redub/internal/workspace"
)

// finalizeTimeout bounds the terminal store write and notification after the
// run context may already have expired.
const finalizeTimeout = 30 * time.Second

// Request identifies the job to run. Empty fields are filled from the stored job.
type Request struct {
	JobID          string
	SourceKey      string
	TargetLanguage string
	VoicePresetID  string
	Glossary       map[string]string
}

// Outcome summarises a finished run.
type Outcome struct {
	JobID         string
	Status        jobs.Status
	OutputKey     string
	Error         string
	FailedStage   string
	Segments      int
	AudioDuration float64
	Elapsed       time.Duration
}

// Options are the orchestrator's tunables.
type Options struct {
	StageTimeout        time.Duration
	PipelineTimeout     time.Duration
	KeepWorkspace       bool
	OutputPrefix        string
	SourceLanguage      string
	ReferenceSeconds    float64
	ReferenceSampleRate int
	MinReferenceSeconds float64
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		StageTimeout:        cfg.StageTimeout(),
		PipelineTimeout:     cfg.PipelineTimeout(),
		KeepWorkspace:       cfg.Workflow.KeepWorkspace,
		OutputPrefix:        cfg.Storage.OutputPrefix,
		SourceLanguage:      cfg.Transcription.SourceLanguage,
		ReferenceSeconds:    cfg.Alignment.ReferenceSeconds,
		ReferenceSampleRate: cfg.Alignment.ReferenceSampleRate,
		MinReferenceSeconds: cfg.Alignment.MinReferenceSeconds,
	}
}

// Orchestrator runs jobs through the stage list.
type Orchestrator struct {
	store    JobStore
	backends Backends
	notifier notifications.Notifier
	opts     Options
	logger   *slog.Logger
}

// New constructs an Orchestrator. A nil notifier disables notifications.
func New(store JobStore, backends Backends, notifier notifications.Notifier, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "job store is required", nil)
	}
	if err := backends.validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	if opts.ReferenceSeconds <= 0 {
		opts.ReferenceSeconds = 6
	}
	if opts.ReferenceSampleRate <= 0 {
		opts.ReferenceSampleRate = 22050
	}
	if strings.TrimSpace(opts.OutputPrefix) == "" {
		opts.OutputPrefix = "dubbed_videos"
	}
	return &Orchestrator{
		store:    store,
		backends: backends,
		notifier: notifier,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
	}, nil
}

// runState carries values between stages of one run.
type runState struct {
	req          Request
	language     string
	ws           *workspace.Workspace
	sourcePath   string
	speechPath   string
	reference    string
	conditioning string
	segments     []segments.Segment
	track        aligner.Track
	dubbedPath   string
	outputKey    string
}

// Run executes every stage for req.JobID. The returned error is non-nil when
// the job failed or could not be started; a refused terminal job is not modified.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	started := time.Now()
	req.JobID = strings.TrimSpace(req.JobID)
	outcome := Outcome{JobID: req.JobID}
	if req.JobID == "" {
		return outcome, services.Wrap(services.ErrValidation, "pipeline", "load job", "job id is required", nil)
	}

	ctx = services.WithJobID(ctx, req.JobID)
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	logger := logging.WithContext(ctx, o.logger)

	job, err := o.store.Get(ctx, req.JobID)
	if err != nil {
		marker := services.ErrTransient
		if errors.Is(err, jobs.ErrNotFound) {
			marker = services.ErrNotFound
		}
		return outcome, services.Wrap(marker, "pipeline", "load job", "", err)
	}
	if job.Status.IsTerminal() {
		outcome.Status = job.Status
		outcome.OutputKey = job.OutputKey
		outcome.Error = job.Error
		return outcome, services.Wrap(services.ErrValidation, "pipeline", "load job",
			fmt.Sprintf("job is already %s", job.Status), nil)
	}
	req = mergeJob(req, job)

	runCtx := ctx
	if o.opts.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.PipelineTimeout)
		defer cancel()
	}

	logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.String("source_key", req.SourceKey),
		logging.String("target_language", req.TargetLanguage),
		logging.Bool("voice_preset", req.VoicePresetID != ""),
	)

	state := &runState{req: req}
	for _, st := range o.stages() {
		if err := o.runStage(runCtx, st, state); err != nil {
			if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
				return o.interrupted(ctx, state, st.name, err, started)
			}
			return o.fail(ctx, state, st.name, err, started)
		}
	}
	return o.complete(ctx, state, started), nil
}

func mergeJob(req Request, job *jobs.Job) Request {
	if strings.TrimSpace(req.SourceKey) == "" {
		req.SourceKey = job.SourceKey
	}
	if strings.TrimSpace(req.TargetLanguage) == "" {
		req.TargetLanguage = job.TargetLanguage
	}
	if strings.TrimSpace(req.VoicePresetID) == "" {
		req.VoicePresetID = job.VoicePresetID
	}
	if len(req.Glossary) == 0 {
		req.Glossary = job.Glossary
	}
	return req
}

func (o *Orchestrator) runStage(ctx context.Context, st stage, state *runState) error {
	if err := ctx.Err(); err != nil {
		return o.timeoutError(st.name, err, true)
	}
	stageCtx := services.WithStage(ctx, st.name)
	logger := logging.WithContext(stageCtx, o.logger)

	if st.step.Valid() {
		if err := o.store.SetStep(stageCtx, state.req.JobID, st.step); err != nil {
			return services.Wrap(services.ErrTransient, st.name, "persist step", "", err)
		}
		o.publish(stageCtx, notifications.EventStep, notifications.Payload{
			JobID:     state.req.JobID,
			Step:      int(st.step),
			StepLabel: st.step.Label(),
		})
	}

	if o.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(stageCtx, o.opts.StageTimeout)
		defer cancel()
	}

	stageStart := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("step", int(st.step)),
	)
	// A stage that returned nil has committed its work even if the deadline
	// passed on the way out.
	if err := st.run(stageCtx, state); err != nil {
		if ctxErr := stageCtx.Err(); ctxErr != nil && !errors.Is(err, services.ErrTimeout) {
			return o.timeoutError(st.name, ctxErr, ctx.Err() != nil)
		}
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	return nil
}

// timeoutError labels an expired context as a stage or whole-run timeout.
func (o *Orchestrator) timeoutError(stageName string, cause error, pipelineExpired bool) error {
	if errors.Is(cause, context.Canceled) {
		return services.Wrap(services.ErrTransient, stageName, "run", "cancelled", cause)
	}
	if pipelineExpired {
		return services.Wrap(services.ErrTimeout, stageName, "run",
			fmt.Sprintf("pipeline exceeded %s", o.opts.PipelineTimeout), cause)
	}
	return services.Wrap(services.ErrTimeout, stageName, "run",
		fmt.Sprintf("stage exceeded %s", o.opts.StageTimeout), cause)
}

func (o *Orchestrator) fail(ctx context.Context, state *runState, stageName string, stageErr error, started time.Time) (Outcome, error) {
	message := fmt.Sprintf("%s: %s", stageName, services.Details(stageErr))

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	logger := logging.WithContext(services.WithStage(finalCtx, stageName), o.logger)
	if err := o.store.MarkFailed(finalCtx, state.req.JobID, message); err != nil {
		if job := o.completedJob(finalCtx, state.req.JobID, err); job != nil {
			// The completion is already stored; the terminal notification must agree with it.
			logging.WarnWithContext(logger, "stage error after job completed", "stage_failure_after_completion",
				logging.String("error_message", message),
				logging.String(logging.FieldErrorHint, "raise workflow.stage_timeout_seconds if publishing is slow"),
				logging.String(logging.FieldImpact, "job stays completed"),
			)
			if state.outputKey == "" {
				state.outputKey = job.OutputKey
			}
			return o.complete(ctx, state, started), nil
		}
		logger.Error("failed to persist stage failure", logging.Error(err))
	}
	o.release(ctx, state)
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String("error_kind", services.Kind(stageErr)),
		logging.String("error_message", message),
		logging.Error(stageErr),
		logging.String(logging.FieldErrorHint, failureHint(stageErr)),
	)
	o.publish(finalCtx, notifications.EventComplete, notifications.Payload{
		JobID:  state.req.JobID,
		Status: string(jobs.StatusFailed),
		Error:  message,
	})

	return Outcome{
		JobID:       state.req.JobID,
		Status:      jobs.StatusFailed,
		Error:       message,
		FailedStage: stageName,
		Segments:    len(state.segments),
		Elapsed:     time.Since(started),
	}, stageErr
}

// completedJob returns the stored job when markErr reports it already terminal
// and COMPLETED, otherwise nil.
func (o *Orchestrator) completedJob(ctx context.Context, id string, markErr error) *jobs.Job {
	if !errors.Is(markErr, jobs.ErrTerminal) {
		return nil
	}
	job, err := o.store.Get(ctx, id)
	if err != nil || job.Status != jobs.StatusCompleted {
		return nil
	}
	return job
}

// interrupted handles shutdown: the job stays PROCESSING so the next daemon
// start requeues it, and no terminal notification is sent.
func (o *Orchestrator) interrupted(ctx context.Context, state *runState, stageName string, cause error, started time.Time) (Outcome, error) {
	o.release(ctx, state)
	logging.WithContext(services.WithStage(context.WithoutCancel(ctx), stageName), o.logger).Info("pipeline interrupted by shutdown",
		logging.String(logging.FieldEventType, "pipeline_interrupted"),
	)
	return Outcome{
		JobID:       state.req.JobID,
		Status:      jobs.StatusProcessing,
		FailedStage: stageName,
		Segments:    len(state.segments),
		Elapsed:     time.Since(started),
	}, services.Wrap(services.ErrTransient, stageName, "run", "interrupted", cause)
}

func (o *Orchestrator) complete(ctx context.Context, state *runState, started time.Time) Outcome {
	o.release(ctx, state)

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	o.publish(finalCtx, notifications.EventComplete, notifications.Payload{
		JobID:     state.req.JobID,
		Status:    string(jobs.StatusCompleted),
		OutputKey: state.outputKey,
	})

	outcome := Outcome{
		JobID:         state.req.JobID,
		Status:        jobs.StatusCompleted,
		OutputKey:     state.outputKey,
		Segments:      len(state.segments),
		AudioDuration: state.track.Duration,
		Elapsed:       time.Since(started),
	}
	logging.WithContext(finalCtx, o.logger).Info("pipeline completed",
		logging.String(logging.FieldEventType, "pipeline_complete"),
		logging.String("output_key", outcome.OutputKey),
		logging.Int("segments", outcome.Segments),
		logging.Seconds("audio_seconds", outcome.AudioDuration),
		logging.Duration("elapsed", outcome.Elapsed),
	)
	return outcome
}

func (o *Orchestrator) release(ctx context.Context, state *runState) {
	if state.ws == nil {
		return
	}
	remove := !o.opts.KeepWorkspace
	if err := state.ws.Release(remove); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "workspace cleanup failed", "workspace_cleanup_failed",
			logging.String("path", state.ws.Dir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the directory manually"),
			logging.String(logging.FieldImpact, "disk space is not reclaimed"),
		)
	}
	if !remove {
		logging.WithContext(ctx, o.logger).Info("workspace kept", logging.String("path", state.ws.Dir))
	}
	state.ws = nil
}

func (o *Orchestrator) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := o.notifier.Publish(ctx, event, payload); err != nil {
		logging.WithContext(ctx, o.logger).Debug("notification not sent",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

func failureHint(err error) string {
	switch services.Kind(err) {
	case "timeout":
		return "raise workflow.stage_timeout_seconds or workflow.pipeline_timeout_seconds, or check backend latency"
	case "configuration":
		return "check the backend sections of config.toml"
	case "validation":
		return "check the source video and job parameters"
	case "external":
		return "check the remote backend logs and credentials"
	default:
		return "check logs for details"
	}
}
