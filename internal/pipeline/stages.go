package pipeline

import (
	"context"
	"fmt"

	"redub/internal/aligner"
	"redub/internal/audio"
	"redub/internal/jobs"
	"redub/internal/language"
	"redub/internal/lipsync"
	"redub/internal/logging"
	"redub/internal/segments"
	"redub/internal/services"
	"redub/internal/services/openai"
	"redub/internal/storage"
)

// Working-area file names. Every stage overwrites its outputs on rerun.
const (
	sourceFile    = "source.mp4"
	speechFile    = "speech.wav"
	referenceFile = "speaker_ref.wav"
	trackFile     = "dubbed_audio.wav"
	dubbedFile    = "dubbed.mp4"
)

// Stage names, in execution order.
const (
	StagePrepare    = "prepare"
	StageTranscribe = "transcribe"
	StageTranslate  = "translate"
	StageSynthesize = "synthesize"
	StageLipSync    = "lipsync"
	StagePublish    = "publish"
)

type stage struct {
	name string
	// step is reported when the stage starts; StepNone stages report nothing.
	step jobs.Step
	run  func(ctx context.Context, state *runState) error
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{name: StagePrepare, step: jobs.StepPreparing, run: o.prepare},
		{name: StageTranscribe, step: jobs.StepTranscribing, run: o.transcribe},
		{name: StageTranslate, step: jobs.StepTranslating, run: o.translate},
		{name: StageSynthesize, step: jobs.StepSynthesizing, run: o.synthesize},
		{name: StageLipSync, step: jobs.StepLipSyncing, run: o.lipSync},
		{name: StagePublish, step: jobs.StepNone, run: o.publishOutput},
	}
}

// StageNames lists the stages in execution order.
func StageNames() []string {
	return []string{StagePrepare, StageTranscribe, StageTranslate, StageSynthesize, StageLipSync, StagePublish}
}

func (o *Orchestrator) prepare(ctx context.Context, state *runState) error {
	logger := logging.WithContext(ctx, o.logger)
	lang, err := language.Normalize(state.req.TargetLanguage)
	if err != nil {
		return services.Wrap(services.ErrValidation, StagePrepare, "target language", "", err)
	}
	state.language = lang
	if state.req.SourceKey == "" {
		return services.Wrap(services.ErrValidation, StagePrepare, "source", "source key is required", nil)
	}

	ws, err := o.backends.Workspaces.Acquire(ctx, state.req.JobID)
	if err != nil {
		return err
	}
	state.ws = ws

	state.sourcePath = ws.Path(sourceFile)
	size, err := o.backends.Fetcher.Fetch(ctx, state.req.SourceKey, state.sourcePath)
	if err != nil {
		return err
	}
	logger.Info("source fetched", logging.Int64("bytes", size))
	if err := o.inspectSource(ctx, state.sourcePath); err != nil {
		return err
	}

	state.conditioning = o.presetConditioning(ctx, state.req.VoicePresetID)
	if state.conditioning == "" {
		state.reference = ws.Path(referenceFile)
		if err := o.backends.Media.ExtractReference(ctx, state.sourcePath, state.reference,
			o.opts.ReferenceSeconds, o.opts.ReferenceSampleRate); err != nil {
			return err
		}
		seconds, err := audio.Duration(state.reference)
		if err != nil {
			return services.Wrap(services.ErrValidation, StagePrepare, "reference clip", "unreadable", err)
		}
		if seconds < o.opts.MinReferenceSeconds {
			return services.Wrap(services.ErrValidation, StagePrepare, "reference clip",
				fmt.Sprintf("only %.2fs of audio, need %.2fs", seconds, o.opts.MinReferenceSeconds), nil)
		}
		logger.Info("speaker reference extracted", logging.Seconds("seconds", seconds))
	}

	state.speechPath = ws.Path(speechFile)
	return o.backends.Media.ExtractSpeech(ctx, state.sourcePath, state.speechPath)
}

// inspectSource rejects sources without an audio stream before any
// extraction runs.
func (o *Orchestrator) inspectSource(ctx context.Context, path string) error {
	if o.backends.Inspector == nil {
		return nil
	}
	probe, err := o.backends.Inspector.Inspect(ctx, path)
	if err != nil {
		return services.Wrap(services.ErrValidation, StagePrepare, "inspect source", "unreadable media", err)
	}
	stream, ok := probe.AudioStream()
	if !ok {
		return services.Wrap(services.ErrValidation, StagePrepare, "inspect source", "source has no audio stream", nil)
	}
	_, hasVideo := probe.VideoStream()
	logging.WithContext(ctx, o.logger).Info("source inspected",
		logging.Seconds("duration", probe.DurationSeconds()),
		logging.String("audio_codec", stream.CodecName),
		logging.Bool("video", hasVideo),
	)
	return nil
}

// presetConditioning returns the conditioning ref of a READY preset, or ""
// so the run falls back to the zero-shot reference clip.
func (o *Orchestrator) presetConditioning(ctx context.Context, presetID string) string {
	if presetID == "" {
		return ""
	}
	logger := logging.WithContext(ctx, o.logger)
	preset, err := o.store.GetPreset(ctx, presetID)
	if err != nil {
		logging.WarnWithContext(logger, "voice preset unavailable", "voice_preset_fallback",
			logging.String("preset_id", presetID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the preset id"),
			logging.String(logging.FieldImpact, "voice cloned from the source reference clip"),
		)
		return ""
	}
	if !preset.Usable() {
		logging.WarnWithContext(logger, "voice preset not ready", "voice_preset_fallback",
			logging.String("preset_id", presetID),
			logging.String("preset_status", string(preset.Status)),
			logging.String(logging.FieldErrorHint, "wait for the preset to become READY"),
			logging.String(logging.FieldImpact, "voice cloned from the source reference clip"),
		)
		return ""
	}
	return preset.ConditioningRef
}

func (o *Orchestrator) transcribe(ctx context.Context, state *runState) error {
	list, err := o.backends.Transcriber.Transcribe(ctx, openai.TranscribeRequest{
		AudioPath: state.speechPath,
		Language:  o.opts.SourceLanguage,
	})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return services.Wrap(services.ErrExternalTool, StageTranscribe, "transcribe", "no speech segments returned", nil)
	}
	state.segments = list
	logging.WithContext(ctx, o.logger).Info("transcription ready", logging.Int("segments", len(list)))
	return nil
}

func (o *Orchestrator) translate(ctx context.Context, state *runState) error {
	logger := logging.WithContext(ctx, o.logger)
	translations, err := o.backends.Translator.Translate(ctx, openai.TranslateRequest{
		Texts:          segments.OriginalTexts(state.segments),
		SourceLanguage: o.opts.SourceLanguage,
		TargetLanguage: state.language,
		Glossary:       state.req.Glossary,
	})
	if err != nil {
		return err
	}

	list, result := segments.ApplyTranslations(state.segments, translations)
	if result.Padded > 0 {
		logger.Info("translation shorter than transcript; padded with silence",
			logging.Int("padded", result.Padded),
			logging.Int("segments", len(list)),
		)
	}
	if result.Truncated > 0 {
		logging.WarnWithContext(logger, "translation longer than transcript; extra entries dropped", "translation_truncated",
			logging.Int("truncated", result.Truncated),
			logging.Int("segments", len(list)),
			logging.String(logging.FieldImpact, "extra translated text is not spoken"),
		)
	}
	state.segments = list

	if o.backends.Detector != nil {
		check := o.backends.Detector.Check(segments.JoinTranslated(list), state.language)
		if !check.Match {
			logging.WarnWithContext(logger, "translated text language mismatch", "translation_language_mismatch",
				logging.String("expected", check.Expected),
				logging.String("detected", check.Detected),
				logging.String(logging.FieldErrorHint, "check translation.model and the glossary"),
				logging.String(logging.FieldImpact, "dub may be spoken in the wrong language"),
			)
		}
	}
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, state *runState) error {
	track, err := o.backends.Synthesizer.Align(ctx, aligner.Request{
		JobID:               state.req.JobID,
		Segments:            state.segments,
		TargetLanguage:      state.language,
		SpeakerReference:    state.reference,
		SpeakerConditioning: state.conditioning,
		WorkDir:             state.ws.Dir,
		OutputPath:          state.ws.Path(trackFile),
	})
	if err != nil {
		return err
	}
	state.track = track
	return nil
}

func (o *Orchestrator) lipSync(ctx context.Context, state *runState) error {
	state.dubbedPath = state.ws.Path(dubbedFile)
	return o.backends.LipSyncer.Sync(ctx, lipsync.Request{
		JobID:      state.req.JobID,
		VideoPath:  state.sourcePath,
		AudioPath:  state.track.Path,
		OutputPath: state.dubbedPath,
	})
}

func (o *Orchestrator) publishOutput(ctx context.Context, state *runState) error {
	key := storage.OutputKey(o.opts.OutputPrefix, state.req.JobID, state.language)
	obj, err := o.backends.Publisher.Put(ctx, key, state.dubbedPath)
	if err != nil {
		return err
	}
	if err := o.store.MarkCompleted(ctx, state.req.JobID, obj.Key); err != nil {
		return services.Wrap(services.ErrTransient, StagePublish, "mark completed", "", err)
	}
	state.outputKey = obj.Key
	logging.WithContext(ctx, o.logger).Info("output published",
		logging.String("output_key", obj.Key),
		logging.Int64("bytes", obj.Size),
		logging.String("sha256", obj.SHA256),
	)
	return nil
}
