// Package xtts calls a remote zero-shot voice-cloning endpoint.
//
// The endpoint accepts POST {base_url}/synthesize with a JSON body and
// answers with WAV bytes:
//
//	{"text": "...", "language": "es", "speaker_wav": "<base64>"}
//	{"text": "...", "language": "es", "speaker_conditioning": "<ref>"}
package xtts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"redub/internal/aligner"
	"redub/internal/logging"
	"redub/internal/services"
)

const maxErrorBody = 512

// Config configures the client.
type Config struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

// Client synthesizes cloned speech.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	// references caches base64 speaker clips by path; one reference serves every segment of a job.
	mu         sync.Mutex
	references map[string]string
}

// New constructs a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := 10 * time.Minute
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "xtts"),
		references: make(map[string]string),
	}
}

type synthesizeRequest struct {
	Text                string `json:"text"`
	Language            string `json:"language"`
	SpeakerWAV          string `json:"speaker_wav,omitempty"`
	SpeakerConditioning string `json:"speaker_conditioning,omitempty"`
}

// Synthesize implements aligner.Synthesizer.
func (c *Client) Synthesize(ctx context.Context, req aligner.SynthesisRequest) ([]byte, error) {
	if c.baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "synthesize", "xtts", "base_url is not configured", nil)
	}
	payload := synthesizeRequest{Text: strings.TrimSpace(req.Text), Language: strings.ToLower(req.Language)}
	switch {
	case req.SpeakerConditioning != "":
		payload.SpeakerConditioning = req.SpeakerConditioning
	case req.SpeakerReference != "":
		encoded, err := c.reference(req.SpeakerReference)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "synthesize", "xtts", "read speaker reference", err)
		}
		payload.SpeakerWAV = encoded
	default:
		return nil, services.Wrap(services.ErrValidation, "synthesize", "xtts", "a speaker reference or conditioning is required", nil)
	}
	if payload.Text == "" {
		return nil, services.Wrap(services.ErrValidation, "synthesize", "xtts", "empty text", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("xtts: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("xtts: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, "synthesize", "xtts", "request interrupted", ctx.Err())
		}
		return nil, services.Wrap(services.ErrTransient, "synthesize", "xtts", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, services.Wrap(services.StatusMarker(resp.StatusCode), "synthesize", "xtts",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "synthesize", "xtts", "read response", err)
	}
	logging.WithContext(ctx, c.logger).Debug("xtts clip received", logging.Int("bytes", len(data)))
	return data, nil
}

func (c *Client) reference(path string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if encoded, ok := c.references[path]; ok {
		return encoded, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	c.references[path] = encoded
	return encoded, nil
}
