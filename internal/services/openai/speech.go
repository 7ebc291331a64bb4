package openai

import (
	"context"
	"io"
	"log/slog"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"redub/internal/aligner"
	"redub/internal/logging"
	"redub/internal/services"
)

// SpeechConfig configures the speech endpoint.
type SpeechConfig struct {
	ClientConfig
	Model string
	Voice string
}

// Speech synthesizes with a fixed stock voice. Speaker references are not
// supported by the endpoint and are ignored.
type Speech struct {
	client *goopenai.Client
	model  goopenai.SpeechModel
	voice  goopenai.SpeechVoice
	retry  retryPolicy
	logger *slog.Logger
}

// NewSpeech constructs a Speech synthesizer.
func NewSpeech(cfg SpeechConfig, logger *slog.Logger, opts ...Option) *Speech {
	model := goopenai.SpeechModel(strings.TrimSpace(cfg.Model))
	if model == "" {
		model = goopenai.TTSModel1
	}
	voice := goopenai.SpeechVoice(strings.TrimSpace(cfg.Voice))
	if voice == "" {
		voice = goopenai.VoiceAlloy
	}
	return &Speech{
		client: newAPIClient(cfg.ClientConfig),
		model:  model,
		voice:  voice,
		retry:  newRetryPolicy(opts),
		logger: logging.NewComponentLogger(logger, "speech"),
	}
}

// Synthesize returns WAV bytes for req.Text.
func (s *Speech) Synthesize(ctx context.Context, req aligner.SynthesisRequest) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "synthesize", "speech", "empty text", nil)
	}
	var data []byte
	retryable, err := s.retry.do(ctx, func() error {
		resp, callErr := s.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
			Model:          s.model,
			Input:          text,
			Voice:          s.voice,
			ResponseFormat: goopenai.SpeechResponseFormatWav,
		})
		if callErr != nil {
			return callErr
		}
		defer resp.Close()
		data, callErr = io.ReadAll(resp)
		return callErr
	})
	if err != nil {
		return nil, wrapCallError("synthesize", "create speech", retryable, err)
	}
	logging.WithContext(ctx, s.logger).Debug("speech synthesized",
		logging.Int("chars", len([]rune(text))),
		logging.Int("bytes", len(data)),
	)
	return data, nil
}
