package preflight

import (
	"context"

	"redub/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Options selects the checks RunAll performs.
type Options struct {
	// ProbeEndpoints issues HTTP requests against configured remote backends.
	ProbeEndpoints bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Storage directory", cfg.Paths.StorageDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	for _, status := range CheckSystemDeps(cfg) {
		results = append(results, Result{
			Name:     status.Name,
			Passed:   status.Available,
			Optional: status.Optional,
			Detail:   firstNonEmpty(status.Detail, status.Command),
		})
	}

	results = append(results,
		CheckAPIKey("Transcription API key", cfg.Transcription.APIKey),
		CheckAPIKey("Translation API key", cfg.Translation.APIKey),
	)
	if cfg.Synthesis.Backend == config.SynthesisOpenAI {
		results = append(results, CheckAPIKey("Synthesis API key", cfg.Synthesis.APIKey))
	}

	if opts.ProbeEndpoints {
		if cfg.Synthesis.Backend == config.SynthesisXTTS {
			results = append(results, CheckEndpoint(ctx, "Voice cloning backend", cfg.Synthesis.BaseURL, cfg.Synthesis.APIKey))
		}
		if cfg.LipSync.Backend != config.LipSyncMux {
			results = append(results, CheckEndpoint(ctx, "Lip-sync backend ("+cfg.LipSync.Backend+")", cfg.LipSync.BaseURL, cfg.LipSync.APIKey))
		}
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
