package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBackends()
	c.normalizeCallbacks()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.work_dir", &c.Paths.WorkDir, defaultWorkDir},
		{"paths.storage_dir", &c.Paths.StorageDir, defaultStorageDir},
		{"paths.state_dir", &c.Paths.StateDir, defaultStateDir},
		{"paths.log_dir", &c.Paths.LogDir, ""},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		c.Paths.APIToken = envValue("REDUB_API_TOKEN")
	}

	c.Storage.OutputPrefix = strings.Trim(strings.TrimSpace(c.Storage.OutputPrefix), "/")
	if c.Storage.OutputPrefix == "" {
		c.Storage.OutputPrefix = defaultOutputPrefix
	}
	return nil
}

func (c *Config) normalizeBackends() {
	c.Transcription.Backend = lowerOr(c.Transcription.Backend, "openai")
	c.Transcription.BaseURL = strings.TrimSpace(c.Transcription.BaseURL)
	c.Transcription.SourceLanguage = strings.ToLower(strings.TrimSpace(c.Transcription.SourceLanguage))
	c.Transcription.APIKey = firstNonEmpty(c.Transcription.APIKey, envValue("OPENAI_API_KEY"))
	if strings.TrimSpace(c.Transcription.Model) == "" {
		c.Transcription.Model = defaultTranscriptionModel
	}

	c.Translation.BaseURL = strings.TrimSpace(c.Translation.BaseURL)
	if c.Translation.BaseURL == "" {
		c.Translation.BaseURL = defaultTranslationBaseURL
	}
	c.Translation.APIKey = firstNonEmpty(c.Translation.APIKey, envValue("GROQ_API_KEY"), envValue("OPENAI_API_KEY"))
	if strings.TrimSpace(c.Translation.Model) == "" {
		c.Translation.Model = defaultTranslationModel
	}

	c.Synthesis.Backend = lowerOr(c.Synthesis.Backend, SynthesisOpenAI)
	c.Synthesis.BaseURL = strings.TrimRight(strings.TrimSpace(c.Synthesis.BaseURL), "/")
	if c.Synthesis.Backend == SynthesisOpenAI {
		c.Synthesis.APIKey = firstNonEmpty(c.Synthesis.APIKey, envValue("OPENAI_API_KEY"))
	} else {
		c.Synthesis.APIKey = strings.TrimSpace(c.Synthesis.APIKey)
	}
	if strings.TrimSpace(c.Synthesis.Voice) == "" {
		c.Synthesis.Voice = defaultSynthesisVoice
	}

	c.LipSync.Backend = lowerOr(c.LipSync.Backend, LipSyncMux)
	c.LipSync.BaseURL = strings.TrimRight(strings.TrimSpace(c.LipSync.BaseURL), "/")
	c.LipSync.APIKey = firstNonEmpty(c.LipSync.APIKey, envValue("REDUB_LIPSYNC_API_KEY"))

	if c.Alignment.SynthesisWorkers <= 0 {
		c.Alignment.SynthesisWorkers = 1
	}
}

func (c *Config) normalizeCallbacks() {
	c.Callbacks.StepURL = strings.TrimSpace(c.Callbacks.StepURL)
	c.Callbacks.CompleteURL = strings.TrimSpace(c.Callbacks.CompleteURL)
	c.Callbacks.Token = firstNonEmpty(c.Callbacks.Token, envValue("REDUB_CALLBACK_TOKEN"))
	if c.Callbacks.QueueSize <= 0 {
		c.Callbacks.QueueSize = defaultCallbackQueueSize
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = lowerOr(c.Logging.Format, defaultLogFormat)
	c.Logging.Level = lowerOr(c.Logging.Level, defaultLogLevel)
}

func envValue(key string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func lowerOr(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
