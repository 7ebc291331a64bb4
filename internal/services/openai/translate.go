package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"redub/internal/language"
	"redub/internal/logging"
	"redub/internal/services"
)

const defaultBatchSize = 40

const translationSystemPrompt = `You translate video dialogue for dubbing.
You receive a JSON object with "target_language", an optional "glossary" and a list of "segments".
Translate every segment's text into the target language, keeping meaning, tone and roughly the same spoken length.
Glossary entries map a source term to the exact text to use; copy the mapped text literally, and keep terms mapped to themselves untranslated.
Respond with JSON only, in the form {"translations": ["...", "..."]}, with exactly one string per input segment, in the same order.
Never merge, split or skip segments. Use an empty string for a segment that has no speech.`

// TranslateRequest describes one translation call.
type TranslateRequest struct {
	Texts          []string
	SourceLanguage string
	TargetLanguage string
	Glossary       map[string]string
}

// TranslatorConfig configures the chat completion call.
type TranslatorConfig struct {
	ClientConfig
	Model       string
	Temperature float64
	BatchSize   int
}

// Translator translates segment texts through a JSON-mode chat completion.
type Translator struct {
	client      *goopenai.Client
	model       string
	temperature float32
	batchSize   int
	retry       retryPolicy
	logger      *slog.Logger
}

// NewTranslator constructs a Translator.
func NewTranslator(cfg TranslatorConfig, logger *slog.Logger, opts ...Option) *Translator {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Translator{
		client:      newAPIClient(cfg.ClientConfig),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		batchSize:   batch,
		retry:       newRetryPolicy(opts),
		logger:      logging.NewComponentLogger(logger, "translator"),
	}
}

type translationPayload struct {
	SourceLanguage string            `json:"source_language,omitempty"`
	TargetLanguage string            `json:"target_language"`
	Glossary       map[string]string `json:"glossary,omitempty"`
	Segments       []payloadSegment  `json:"segments"`
}

type payloadSegment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type translationResponse struct {
	Translations []string `json:"translations"`
}

// Translate returns translations in input order. Texts are sent in batches;
// each batch result is padded or cut to the batch length so later batches
// stay aligned. The caller still tolerates a short overall result.
func (t *Translator) Translate(ctx context.Context, req TranslateRequest) ([]string, error) {
	if strings.TrimSpace(req.TargetLanguage) == "" {
		return nil, services.Wrap(services.ErrValidation, "translate", "request", "target language is required", nil)
	}
	if len(req.Texts) == 0 {
		return nil, nil
	}
	logger := logging.WithContext(ctx, t.logger)
	target := language.DisplayName(req.TargetLanguage)

	out := make([]string, 0, len(req.Texts))
	for start := 0; start < len(req.Texts); start += t.batchSize {
		end := min(start+t.batchSize, len(req.Texts))
		batch, err := t.translateBatch(ctx, req, target, start, req.Texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			logging.WarnWithContext(logger, "translation batch size mismatch", "translation_count_mismatch",
				logging.Int("batch_start", start),
				logging.Int("expected", end-start),
				logging.Int("received", len(batch)),
				logging.String(logging.FieldImpact, "missing segments are dubbed as silence"),
			)
			batch = fitLength(batch, end-start)
		}
		out = append(out, batch...)
	}
	logger.Info("translation complete", logging.Int("segments", len(out)), logging.String("target_language", target))
	return out, nil
}

func (t *Translator) translateBatch(ctx context.Context, req TranslateRequest, target string, offset int, texts []string) ([]string, error) {
	payload := translationPayload{
		TargetLanguage: target,
		Glossary:       glossaryFor(req.Glossary, texts),
		Segments:       make([]payloadSegment, len(texts)),
	}
	if req.SourceLanguage != "" {
		payload.SourceLanguage = language.DisplayName(req.SourceLanguage)
	}
	for i, text := range texts {
		payload.Segments[i] = payloadSegment{Index: offset + i, Text: text}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("translate: encode payload: %w", err)
	}

	var content string
	retryable, err := t.retry.do(ctx, func() error {
		resp, callErr := t.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
			Model: t.model,
			Messages: []goopenai.ChatCompletionMessage{
				{Role: goopenai.ChatMessageRoleSystem, Content: translationSystemPrompt},
				{Role: goopenai.ChatMessageRoleUser, Content: string(body)},
			},
			Temperature: t.temperature,
			ResponseFormat: &goopenai.ChatCompletionResponseFormat{
				Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if callErr != nil {
			return callErr
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, wrapCallError("translate", "chat completion", retryable, err)
	}

	var parsed translationResponse
	if err := decodeJSON(content, &parsed); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "translate", "parse", "malformed translation payload", err)
	}
	for i := range parsed.Translations {
		parsed.Translations[i] = strings.TrimSpace(parsed.Translations[i])
	}
	return parsed.Translations, nil
}

// glossaryFor keeps only the terms that occur in texts.
func glossaryFor(glossary map[string]string, texts []string) map[string]string {
	if len(glossary) == 0 {
		return nil
	}
	joined := strings.ToLower(strings.Join(texts, "\n"))
	terms := make([]string, 0, len(glossary))
	for term := range glossary {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	out := make(map[string]string)
	for _, term := range terms {
		if strings.Contains(joined, strings.ToLower(term)) {
			out[term] = glossary[term]
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func fitLength(list []string, n int) []string {
	if len(list) >= n {
		return list[:n]
	}
	return append(list, make([]string, n-len(list))...)
}
