package config

import (
	"errors"
	"fmt"

	"redub/internal/media/ffmpeg"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackends(); err != nil {
		return err
	}
	if err := c.validateAlignment(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBackends() error {
	if c.Transcription.Backend != "openai" {
		return fmt.Errorf("transcription.backend: unsupported value %q", c.Transcription.Backend)
	}
	switch c.Synthesis.Backend {
	case SynthesisOpenAI:
	case SynthesisXTTS:
		if c.Synthesis.BaseURL == "" {
			return errors.New("synthesis.base_url must be set when synthesis.backend is xtts")
		}
	default:
		return fmt.Errorf("synthesis.backend: unsupported value %q", c.Synthesis.Backend)
	}
	switch c.LipSync.Backend {
	case LipSyncMux:
	case LipSyncMuseTalk, LipSyncWav2Lip, LipSyncLatentSync:
		if c.LipSync.BaseURL == "" {
			return fmt.Errorf("lipsync.base_url must be set when lipsync.backend is %s", c.LipSync.Backend)
		}
	default:
		return fmt.Errorf("lipsync.backend: unsupported value %q", c.LipSync.Backend)
	}
	if c.Translation.Temperature < 0 || c.Translation.Temperature > 2 {
		return errors.New("translation.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateAlignment() error {
	a := c.Alignment
	switch {
	case a.SampleRate < 8000:
		return errors.New("alignment.sample_rate must be at least 8000")
	case a.Damping <= 0 || a.Damping > 1:
		return errors.New("alignment.damping must be in (0, 1]")
	case a.MinTempo <= 0 || a.MinTempo > 1:
		return errors.New("alignment.min_tempo must be in (0, 1]")
	case a.MaxTempo < 1:
		return errors.New("alignment.max_tempo must be at least 1")
	case a.StretchStepMin < ffmpeg.MinAtempo || a.StretchStepMin >= 1:
		return fmt.Errorf("alignment.stretch_step_min must be in [%.1f, 1)", ffmpeg.MinAtempo)
	case a.StretchStepMax <= 1 || a.StretchStepMax > ffmpeg.MaxAtempo:
		return fmt.Errorf("alignment.stretch_step_max must be in (1, %.1f]", ffmpeg.MaxAtempo)
	case a.GapThreshold < 0:
		return errors.New("alignment.gap_threshold must be non-negative")
	case a.MinMeasurable < 0:
		return errors.New("alignment.min_measurable must be non-negative")
	case a.ReferenceSeconds <= 0:
		return errors.New("alignment.reference_seconds must be positive")
	case a.ReferenceSampleRate < 8000:
		return errors.New("alignment.reference_sample_rate must be at least 8000")
	case a.MinReferenceSeconds < 0 || a.MinReferenceSeconds > a.ReferenceSeconds:
		return errors.New("alignment.min_reference_seconds must be between 0 and reference_seconds")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	w := c.Workflow
	if w.StageTimeoutSeconds <= 0 {
		return errors.New("workflow.stage_timeout_seconds must be positive")
	}
	if w.PipelineTimeoutSeconds < w.StageTimeoutSeconds {
		return errors.New("workflow.pipeline_timeout_seconds must be at least stage_timeout_seconds")
	}
	if w.PollIntervalSeconds <= 0 {
		return errors.New("workflow.poll_interval_seconds must be positive")
	}
	if w.MaxConcurrentJobs <= 0 {
		return errors.New("workflow.max_concurrent_jobs must be positive")
	}
	if w.MinFreeGiB < 0 {
		return errors.New("workflow.min_free_gib must be non-negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
