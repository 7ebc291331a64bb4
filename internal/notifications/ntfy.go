package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"redub/internal/config"
)

type ntfyMessage struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyNotifier struct {
	endpoint string
	client   *http.Client
}

func newNtfy(cfg config.Notifications) *ntfyNotifier {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return nil
	}
	return &ntfyNotifier{
		endpoint: topic,
		client:   &http.Client{Timeout: requestTimeout(cfg.RequestTimeout)},
	}
}

func (n *ntfyNotifier) Publish(ctx context.Context, event Event, payload Payload) error {
	if err := validate(event, payload); err != nil {
		return err
	}
	return n.send(ctx, render(event, payload))
}

func render(event Event, payload Payload) ntfyMessage {
	if event == EventStep {
		label := payload.StepLabel
		if label == "" {
			label = fmt.Sprintf("step %d", payload.Step)
		}
		return ntfyMessage{
			title:    "Redub - " + label,
			message:  fmt.Sprintf("▶️ %s: %s", payload.JobID, label),
			tags:     []string{"redub", "progress"},
			priority: "low",
		}
	}
	if strings.EqualFold(payload.Status, "COMPLETED") {
		msg := fmt.Sprintf("✅ Dub ready: %s", payload.JobID)
		if payload.OutputKey != "" {
			msg += "\n" + payload.OutputKey
		}
		return ntfyMessage{
			title:   "Redub - Completed",
			message: msg,
			tags:    []string{"redub", "completed"},
		}
	}
	msg := fmt.Sprintf("❌ Dub failed: %s", payload.JobID)
	if payload.Error != "" {
		msg += "\n" + payload.Error
	}
	return ntfyMessage{
		title:    "Redub - Failed",
		message:  msg,
		tags:     []string{"redub", "error"},
		priority: "high",
	}
}

func (n *ntfyNotifier) send(ctx context.Context, data ntfyMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
