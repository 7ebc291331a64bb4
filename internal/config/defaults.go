package config

const (
	defaultConfigPath             = "~/.config/redub/config.toml"
	defaultWorkDir                = "~/.local/share/redub/pipeline"
	defaultStorageDir             = "~/.local/share/redub/objects"
	defaultStateDir               = "~/.local/share/redub"
	defaultLogDir                 = "~/.local/share/redub/logs"
	defaultAPIBind                = "127.0.0.1:7590"
	defaultOutputPrefix           = "dubbed_videos"
	defaultSourceTimeoutSeconds   = 600
	defaultTranscriptionModel     = "whisper-1"
	defaultTranslationBaseURL     = "https://api.groq.com/openai/v1"
	defaultTranslationModel       = "llama-3.3-70b-versatile"
	defaultTranslationTemperature = 0.3
	defaultSynthesisModel         = "tts-1"
	defaultSynthesisVoice         = "alloy"
	defaultRemoteTimeoutSeconds   = 600
	defaultLipSyncTimeoutSeconds  = 1800
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"

	defaultSampleRate          = 24000
	defaultDamping             = 0.6
	defaultMinTempo            = 0.8
	defaultMaxTempo            = 1.5
	defaultStretchStepMin      = 0.5
	defaultStretchStepMax      = 2.0
	defaultGapThreshold        = 0.01
	defaultMinMeasurable       = 0.05
	defaultReferenceSeconds    = 6.0
	defaultReferenceSampleRate = 22050
	defaultMinReferenceSeconds = 1.0

	defaultStageTimeoutSeconds    = 3600
	defaultPipelineTimeoutSeconds = 3 * 3600
	defaultPollIntervalSeconds    = 5
	defaultMaxConcurrentJobs      = 2
	defaultMinFreeGiB             = 2
	defaultCallbackQueueSize      = 64
	defaultRequestTimeout         = 10
)

// Backend names accepted in [synthesis] and [lipsync].
const (
	SynthesisOpenAI = "openai"
	SynthesisXTTS   = "xtts"

	LipSyncMux        = "mux"
	LipSyncMuseTalk   = "musetalk"
	LipSyncWav2Lip    = "wav2lip"
	LipSyncLatentSync = "latentsync"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:    defaultWorkDir,
			StorageDir: defaultStorageDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Storage: Storage{
			OutputPrefix:         defaultOutputPrefix,
			SourceTimeoutSeconds: defaultSourceTimeoutSeconds,
		},
		Transcription: Transcription{
			Backend:        "openai",
			Model:          defaultTranscriptionModel,
			TimeoutSeconds: defaultRemoteTimeoutSeconds,
		},
		Translation: Translation{
			BaseURL:        defaultTranslationBaseURL,
			Model:          defaultTranslationModel,
			Temperature:    defaultTranslationTemperature,
			TimeoutSeconds: defaultRemoteTimeoutSeconds,
			DetectLanguage: true,
		},
		Synthesis: Synthesis{
			Backend:        SynthesisOpenAI,
			Model:          defaultSynthesisModel,
			Voice:          defaultSynthesisVoice,
			TimeoutSeconds: defaultRemoteTimeoutSeconds,
		},
		LipSync: LipSync{
			Backend:        LipSyncMux,
			TimeoutSeconds: defaultLipSyncTimeoutSeconds,
		},
		Alignment: Alignment{
			SampleRate:          defaultSampleRate,
			Damping:             defaultDamping,
			MinTempo:            defaultMinTempo,
			MaxTempo:            defaultMaxTempo,
			StretchStepMin:      defaultStretchStepMin,
			StretchStepMax:      defaultStretchStepMax,
			GapThreshold:        defaultGapThreshold,
			MinMeasurable:       defaultMinMeasurable,
			ReferenceSeconds:    defaultReferenceSeconds,
			ReferenceSampleRate: defaultReferenceSampleRate,
			MinReferenceSeconds: defaultMinReferenceSeconds,
			SynthesisWorkers:    1,
		},
		Callbacks: Callbacks{
			RequestTimeout: defaultRequestTimeout,
			QueueSize:      defaultCallbackQueueSize,
		},
		Notifications: Notifications{
			RequestTimeout: defaultRequestTimeout,
		},
		Workflow: Workflow{
			StageTimeoutSeconds:    defaultStageTimeoutSeconds,
			PipelineTimeoutSeconds: defaultPipelineTimeoutSeconds,
			PollIntervalSeconds:    defaultPollIntervalSeconds,
			MaxConcurrentJobs:      defaultMaxConcurrentJobs,
			MinFreeGiB:             defaultMinFreeGiB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
