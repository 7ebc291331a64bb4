package notifications_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"redub/internal/config"
	"redub/internal/notifications"
)

type capturedRequest struct {
	path   string
	auth   string
	header http.Header
	body   string
}

func recordingServer(t *testing.T) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			header: r.Header.Clone(),
			body:   string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func TestNewServiceReturnsNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventStep, notifications.Payload{JobID: "a", Step: 1}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestWebhookPostsStepAndCompletion(t *testing.T) {
	srv, captured := recordingServer(t)
	cfg := config.Default()
	cfg.Callbacks.StepURL = srv.URL + "/api/webhook/job-step"
	cfg.Callbacks.CompleteURL = srv.URL + "/api/webhook/job-complete"
	cfg.Callbacks.Token = "secret"
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.Publish(ctx, notifications.EventStep, notifications.Payload{JobID: "job-1", Step: 3, StepLabel: "Translating"}); err != nil {
		t.Fatalf("step publish: %v", err)
	}
	if err := svc.Publish(ctx, notifications.EventComplete, notifications.Payload{JobID: "job-1", Status: "FAILED", Error: "translate: boom"}); err != nil {
		t.Fatalf("complete publish: %v", err)
	}

	reqs := captured()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].path != "/api/webhook/job-step" || reqs[0].auth != "Bearer secret" {
		t.Fatalf("unexpected step request %#v", reqs[0])
	}
	var step map[string]any
	if err := json.Unmarshal([]byte(reqs[0].body), &step); err != nil {
		t.Fatalf("decode step body: %v", err)
	}
	if step["job_id"] != "job-1" || step["step"] != float64(3) {
		t.Fatalf("unexpected step body %v", step)
	}

	var done map[string]any
	if err := json.Unmarshal([]byte(reqs[1].body), &done); err != nil {
		t.Fatalf("decode complete body: %v", err)
	}
	if done["status"] != "FAILED" || done["error"] != "translate: boom" {
		t.Fatalf("unexpected complete body %v", done)
	}
	if _, ok := done["output_key"]; ok {
		t.Fatalf("failed completion should omit output_key: %v", done)
	}
}

func TestWebhookReportsReceiverErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Callbacks.CompleteURL = srv.URL
	svc := notifications.NewService(&cfg)
	err := svc.Publish(context.Background(), notifications.EventComplete, notifications.Payload{JobID: "j", Status: "COMPLETED"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestNtfyFormatsEvents(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:           "step",
			event:          notifications.EventStep,
			payload:        notifications.Payload{JobID: "demo-1", Step: 4, StepLabel: "Cloning Voice"},
			expectTitle:    "Redub - Cloning Voice",
			expectMessage:  "▶️ demo-1: Cloning Voice",
			expectTags:     "redub,progress",
			expectPriority: "low",
		},
		{
			name:          "completed",
			event:         notifications.EventComplete,
			payload:       notifications.Payload{JobID: "demo-1", Status: "COMPLETED", OutputKey: "dubbed_videos/demo-1_es.mp4"},
			expectTitle:   "Redub - Completed",
			expectMessage: "✅ Dub ready: demo-1\ndubbed_videos/demo-1_es.mp4",
			expectTags:    "redub,completed",
		},
		{
			name:           "failed",
			event:          notifications.EventComplete,
			payload:        notifications.Payload{JobID: "demo-1", Status: "FAILED", Error: "lipsync: timeout"},
			expectTitle:    "Redub - Failed",
			expectMessage:  "❌ Dub failed: demo-1\nlipsync: timeout",
			expectTags:     "redub,error",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, captured := recordingServer(t)
			cfg := config.Default()
			cfg.Notifications.NtfyTopic = srv.URL
			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("Publish returned error: %v", err)
			}
			reqs := captured()
			if len(reqs) != 1 {
				t.Fatalf("expected 1 request, got %d", len(reqs))
			}
			got := reqs[0]
			if got.header.Get("Title") != tc.expectTitle {
				t.Fatalf("title = %q, want %q", got.header.Get("Title"), tc.expectTitle)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("message = %q, want %q", got.body, tc.expectMessage)
			}
			if got.header.Get("Tags") != tc.expectTags {
				t.Fatalf("tags = %q, want %q", got.header.Get("Tags"), tc.expectTags)
			}
			if got.header.Get("Priority") != tc.expectPriority {
				t.Fatalf("priority = %q, want %q", got.header.Get("Priority"), tc.expectPriority)
			}
		})
	}
}

func TestNewServiceFansOutToBothChannels(t *testing.T) {
	srv, captured := recordingServer(t)
	cfg := config.Default()
	cfg.Callbacks.StepURL = srv.URL + "/step"
	cfg.Notifications.NtfyTopic = srv.URL + "/topic"
	svc := notifications.NewService(&cfg)

	if err := svc.Publish(context.Background(), notifications.EventStep, notifications.Payload{JobID: "x", Step: 1, StepLabel: "Preparing"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	paths := map[string]bool{}
	for _, r := range captured() {
		paths[r.path] = true
	}
	if !paths["/step"] || !paths["/topic"] {
		t.Fatalf("expected both channels, got %v", paths)
	}
}

func TestPublishRejectsMissingJobID(t *testing.T) {
	srv, _ := recordingServer(t)
	cfg := config.Default()
	cfg.Callbacks.StepURL = srv.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventStep, notifications.Payload{Step: 1}); err == nil {
		t.Fatal("expected error for missing job id")
	}
}
