package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir    string `toml:"work_dir"`
	StorageDir string `toml:"storage_dir"`
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Storage controls where sources are read from and where results are published.
type Storage struct {
	OutputPrefix         string `toml:"output_prefix"`
	SourceTimeoutSeconds int    `toml:"source_timeout_seconds"`
}

// Transcription configures the speech-to-text backend.
type Transcription struct {
	Backend        string `toml:"backend"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	SourceLanguage string `toml:"source_language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Translation configures the chat-completion backend used to translate segments.
type Translation struct {
	BaseURL        string            `toml:"base_url"`
	APIKey         string            `toml:"api_key"`
	Model          string            `toml:"model"`
	Temperature    float64           `toml:"temperature"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	DetectLanguage bool              `toml:"detect_language"`
	Glossary       map[string]string `toml:"glossary"`
}

// Synthesis configures the text-to-speech backend.
type Synthesis struct {
	// Backend is "openai" (CreateSpeech) or "xtts" (remote voice-cloning endpoint).
	Backend        string `toml:"backend"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Voice          string `toml:"voice"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LipSync configures the lip-sync backend.
type LipSync struct {
	// Backend is one of mux, musetalk, wav2lip, latentsync.
	Backend        string `toml:"backend"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Alignment holds the tuning knobs of the time-aligned synthesis engine.
type Alignment struct {
	SampleRate          int     `toml:"sample_rate"`
	Damping             float64 `toml:"damping"`
	MinTempo            float64 `toml:"min_tempo"`
	MaxTempo            float64 `toml:"max_tempo"`
	StretchStepMin      float64 `toml:"stretch_step_min"`
	StretchStepMax      float64 `toml:"stretch_step_max"`
	GapThreshold        float64 `toml:"gap_threshold"`
	MinMeasurable       float64 `toml:"min_measurable"`
	ReferenceSeconds    float64 `toml:"reference_seconds"`
	ReferenceSampleRate int     `toml:"reference_sample_rate"`
	MinReferenceSeconds float64 `toml:"min_reference_seconds"`
	SynthesisWorkers    int     `toml:"synthesis_workers"`
}

// Callbacks configures the HTTP status sink that receives progress and completion events.
type Callbacks struct {
	StepURL        string `toml:"step_url"`
	CompleteURL    string `toml:"complete_url"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"`
	QueueSize      int    `toml:"queue_size"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Workflow contains configuration for daemon timing and pipeline limits.
type Workflow struct {
	StageTimeoutSeconds    int  `toml:"stage_timeout_seconds"`
	PipelineTimeoutSeconds int  `toml:"pipeline_timeout_seconds"`
	PollIntervalSeconds    int  `toml:"poll_interval_seconds"`
	MaxConcurrentJobs      int  `toml:"max_concurrent_jobs"`
	MinFreeGiB             int  `toml:"min_free_gib"`
	KeepWorkspace          bool `toml:"keep_workspace"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for redub.
//
// Configuration sections by subsystem:
//   - Paths: working area, object store root, state database, logs, API bind
//   - Storage: output key prefix and source download timeout
//   - Transcription, Translation, Synthesis, LipSync: remote stage backends
//   - Alignment: damping, tempo bounds and thresholds of the audio aligner
//   - Callbacks: progress/completion webhooks
//   - Notifications: ntfy push notifications
//   - Workflow: timeouts and daemon concurrency
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Storage       Storage       `toml:"storage"`
	Transcription Transcription `toml:"transcription"`
	Translation   Translation   `toml:"translation"`
	Synthesis     Synthesis     `toml:"synthesis"`
	LipSync       LipSync       `toml:"lipsync"`
	Alignment     Alignment     `toml:"alignment"`
	Callbacks     Callbacks     `toml:"callbacks"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("redub.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon and pipeline write to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.StorageDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath is the SQLite job store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "redub.db")
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "redub.lock")
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// StageTimeout bounds a single pipeline stage.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Workflow.StageTimeoutSeconds) * time.Second
}

// PipelineTimeout bounds a whole run.
func (c *Config) PipelineTimeout() time.Duration {
	return time.Duration(c.Workflow.PipelineTimeoutSeconds) * time.Second
}

// PollInterval is the daemon's pending-job polling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollIntervalSeconds) * time.Second
}

// Seconds converts a config timeout in seconds to a duration, falling back when unset.
func Seconds(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
