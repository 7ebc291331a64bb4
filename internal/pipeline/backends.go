package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"redub/internal/aligner"
	"redub/internal/audio"
	"redub/internal/config"
	"redub/internal/jobs"
	"redub/internal/language"
	"redub/internal/lipsync"
	"redub/internal/media/ffmpeg"
	"redub/internal/media/ffprobe"
	"redub/internal/segments"
	"redub/internal/services"
	"redub/internal/services/openai"
	"redub/internal/services/xtts"
	"redub/internal/storage"
	"redub/internal/workspace"
)

// JobStore is the persistence the orchestrator needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	GetPreset(ctx context.Context, id string) (*jobs.VoicePreset, error)
	SetStep(ctx context.Context, id string, step jobs.Step) error
	MarkCompleted(ctx context.Context, id, outputKey string) error
	MarkFailed(ctx context.Context, id, message string) error
}

// Workspaces hands out exclusive per-job working areas.
type Workspaces interface {
	Acquire(ctx context.Context, jobID string) (*workspace.Workspace, error)
}

// Fetcher copies the source video into the working area.
type Fetcher interface {
	Fetch(ctx context.Context, source, dest string) (int64, error)
}

// Publisher stores the finished video under a durable key.
type Publisher interface {
	Put(ctx context.Context, key, src string) (storage.Object, error)
}

// MediaTools extracts the audio the remote stages consume.
type MediaTools interface {
	ExtractReference(ctx context.Context, video, out string, seconds float64, rate int) error
	ExtractSpeech(ctx context.Context, video, out string) error
}

// SourceInspector probes the fetched source before any extraction.
type SourceInspector interface {
	Inspect(ctx context.Context, path string) (ffprobe.Result, error)
}

// Transcriber turns speech into timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, req openai.TranscribeRequest) ([]segments.Segment, error)
}

// Translator returns one translation per input text.
type Translator interface {
	Translate(ctx context.Context, req openai.TranslateRequest) ([]string, error)
}

// Synthesizer builds the time-aligned dubbed track.
type Synthesizer interface {
	Align(ctx context.Context, req aligner.Request) (aligner.Track, error)
}

// LanguageChecker verifies translated text is in the expected language.
type LanguageChecker interface {
	Check(text, expected string) language.Result
}

// Backends groups one implementation per stage capability.
type Backends struct {
	Workspaces  Workspaces
	Fetcher     Fetcher
	Media       MediaTools
	Transcriber Transcriber
	Translator  Translator
	Synthesizer Synthesizer
	LipSyncer   lipsync.Syncer
	Publisher   Publisher
	// Inspector is optional; nil skips the source stream check.
	Inspector SourceInspector
	// Detector is optional; nil disables the translated-language check.
	Detector LanguageChecker
}

func (b Backends) validate() error {
	missing := ""
	switch {
	case b.Workspaces == nil:
		missing = "workspaces"
	case b.Fetcher == nil:
		missing = "fetcher"
	case b.Media == nil:
		missing = "media tools"
	case b.Transcriber == nil:
		missing = "transcriber"
	case b.Translator == nil:
		missing = "translator"
	case b.Synthesizer == nil:
		missing = "synthesizer"
	case b.LipSyncer == nil:
		missing = "lip-syncer"
	case b.Publisher == nil:
		missing = "publisher"
	}
	if missing != "" {
		return services.Wrap(services.ErrConfiguration, "pipeline", "init", missing+" backend is required", nil)
	}
	return nil
}

// NewBackends wires the backends selected by cfg.
func NewBackends(cfg *config.Config, logger *slog.Logger) (Backends, error) {
	if cfg == nil {
		return Backends{}, services.Wrap(services.ErrConfiguration, "pipeline", "init", "config is required", nil)
	}
	store, err := storage.NewStore(cfg.Paths.StorageDir)
	if err != nil {
		return Backends{}, err
	}
	runner := ffmpeg.New(cfg.FFmpegBinary())

	synth, err := newSynthesizer(cfg, logger)
	if err != nil {
		return Backends{}, err
	}
	align, err := aligner.New(aligner.OptionsFromConfig(cfg.Alignment), aligner.Dependencies{
		Synthesizer: synth,
		Normalizer:  runner,
		Stretcher: audio.ChainStretcher{
			Step:    runner,
			MinStep: cfg.Alignment.StretchStepMin,
			MaxStep: cfg.Alignment.StretchStepMax,
		},
	}, logger)
	if err != nil {
		return Backends{}, err
	}
	syncer, err := lipsync.New(cfg.LipSync, runner, logger)
	if err != nil {
		return Backends{}, err
	}

	backends := Backends{
		Workspaces: workspace.NewManager(cfg.Paths.WorkDir, cfg.Workflow.MinFreeGiB, logger),
		Fetcher:    storage.NewFetcher(store, config.Seconds(cfg.Storage.SourceTimeoutSeconds, 10*time.Minute), logger),
		Media:      runner,
		Transcriber: openai.NewTranscriber(openai.ClientConfig{
			APIKey:         cfg.Transcription.APIKey,
			BaseURL:        cfg.Transcription.BaseURL,
			TimeoutSeconds: cfg.Transcription.TimeoutSeconds,
		}, cfg.Transcription.Model, logger),
		Translator: openai.NewTranslator(openai.TranslatorConfig{
			ClientConfig: openai.ClientConfig{
				APIKey:         cfg.Translation.APIKey,
				BaseURL:        cfg.Translation.BaseURL,
				TimeoutSeconds: cfg.Translation.TimeoutSeconds,
			},
			Model:       cfg.Translation.Model,
			Temperature: cfg.Translation.Temperature,
		}, logger),
		Synthesizer: align,
		LipSyncer:   syncer,
		Publisher:   store,
		Inspector:   ffprobe.Prober{Binary: cfg.FFprobeBinary()},
	}
	if cfg.Translation.DetectLanguage {
		backends.Detector = language.NewDetector()
	}
	return backends, nil
}

func newSynthesizer(cfg *config.Config, logger *slog.Logger) (aligner.Synthesizer, error) {
	switch cfg.Synthesis.Backend {
	case "", config.SynthesisOpenAI:
		return openai.NewSpeech(openai.SpeechConfig{
			ClientConfig: openai.ClientConfig{
				APIKey:         cfg.Synthesis.APIKey,
				BaseURL:        cfg.Synthesis.BaseURL,
				TimeoutSeconds: cfg.Synthesis.TimeoutSeconds,
			},
			Model: cfg.Synthesis.Model,
			Voice: cfg.Synthesis.Voice,
		}, logger), nil
	case config.SynthesisXTTS:
		return xtts.New(xtts.Config{
			BaseURL:        cfg.Synthesis.BaseURL,
			APIKey:         cfg.Synthesis.APIKey,
			TimeoutSeconds: cfg.Synthesis.TimeoutSeconds,
		}, logger), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", fmt.Sprintf("unknown synthesis backend %q", cfg.Synthesis.Backend), nil)
	}
}
