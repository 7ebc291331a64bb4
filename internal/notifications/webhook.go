package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"redub/internal/config"
)

type stepBody struct {
	JobID string `json:"job_id"`
	Step  int    `json:"step"`
}

type completeBody struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	OutputKey string `json:"output_key,omitempty"`
	Error     string `json:"error,omitempty"`
}

type webhookNotifier struct {
	stepURL     string
	completeURL string
	token       string
	client      *http.Client
}

func newWebhook(cfg config.Callbacks) *webhookNotifier {
	if cfg.StepURL == "" && cfg.CompleteURL == "" {
		return nil
	}
	return &webhookNotifier{
		stepURL:     cfg.StepURL,
		completeURL: cfg.CompleteURL,
		token:       strings.TrimSpace(cfg.Token),
		client:      &http.Client{Timeout: requestTimeout(cfg.RequestTimeout)},
	}
}

func (w *webhookNotifier) Publish(ctx context.Context, event Event, payload Payload) error {
	if err := validate(event, payload); err != nil {
		return err
	}
	var (
		endpoint string
		body     any
	)
	switch event {
	case EventStep:
		endpoint = w.stepURL
		body = stepBody{JobID: payload.JobID, Step: payload.Step}
	case EventComplete:
		endpoint = w.completeURL
		body = completeBody{
			JobID:     payload.JobID,
			Status:    payload.Status,
			OutputKey: payload.OutputKey,
			Error:     payload.Error,
		}
	}
	if endpoint == "" {
		return nil
	}
	return w.post(ctx, endpoint, body)
}

func (w *webhookNotifier) post(ctx context.Context, endpoint string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("callback %s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
