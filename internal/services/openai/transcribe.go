package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"redub/internal/logging"
	"redub/internal/segments"
	"redub/internal/services"
)

// TranscribeRequest describes one transcription call.
type TranscribeRequest struct {
	// AudioPath is a compact audio rendition of the prepared video.
	AudioPath string
	// Language is an optional ISO 639-1 hint.
	Language string
}

// Transcriber calls the audio transcription endpoint.
type Transcriber struct {
	client *goopenai.Client
	model  string
	retry  retryPolicy
	logger *slog.Logger
}

// NewTranscriber constructs a Transcriber.
func NewTranscriber(cfg ClientConfig, model string, logger *slog.Logger, opts ...Option) *Transcriber {
	if strings.TrimSpace(model) == "" {
		model = goopenai.Whisper1
	}
	return &Transcriber{
		client: newAPIClient(cfg),
		model:  model,
		retry:  newRetryPolicy(opts),
		logger: logging.NewComponentLogger(logger, "transcriber"),
	}
}

// Transcribe returns ordered segments with word timing attached.
func (t *Transcriber) Transcribe(ctx context.Context, req TranscribeRequest) ([]segments.Segment, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return nil, services.Wrap(services.ErrValidation, "transcribe", "request", "audio path is required", nil)
	}
	var resp goopenai.AudioResponse
	retryable, err := t.retry.do(ctx, func() error {
		var callErr error
		resp, callErr = t.client.CreateTranscription(ctx, goopenai.AudioRequest{
			Model:    t.model,
			FilePath: req.AudioPath,
			Format:   goopenai.AudioResponseFormatVerboseJSON,
			Language: req.Language,
			TimestampGranularities: []goopenai.TranscriptionTimestampGranularity{
				goopenai.TranscriptionTimestampGranularitySegment,
				goopenai.TranscriptionTimestampGranularityWord,
			},
		})
		return callErr
	})
	if err != nil {
		return nil, wrapCallError("transcribe", "create transcription", retryable, err)
	}

	out := make([]segments.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" || s.End <= s.Start {
			continue
		}
		seg := segments.Segment{Start: s.Start, End: s.End, OriginalText: text}
		for _, w := range resp.Words {
			if w.Start >= s.Start && w.Start < s.End {
				seg.Words = append(seg.Words, segments.Word{Text: strings.TrimSpace(w.Word), Start: w.Start, End: w.End})
			}
		}
		out = append(out, seg)
	}
	logging.WithContext(ctx, t.logger).Info("transcription complete",
		logging.Int("segments", len(out)),
		logging.Int("words", len(resp.Words)),
		logging.String("detected_language", resp.Language),
		logging.Seconds("audio_seconds", resp.Duration),
	)
	if len(out) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "parse", "no speech segments returned", nil)
	}
	return out, nil
}

func wrapCallError(stage, op string, retryable bool, err error) error {
	marker := services.ErrExternalTool
	switch {
	case ctxErr(err):
		marker = services.ErrTimeout
	case retryable:
		marker = services.ErrTransient
	}
	msg := "request failed"
	if status := statusCode(err); status != 0 {
		msg = fmt.Sprintf("http %d", status)
	}
	return services.Wrap(marker, stage, op, msg, err)
}
