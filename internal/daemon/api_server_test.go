package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"redub/internal/config"
	"redub/internal/jobs"
	"redub/internal/pipeline"
	"redub/internal/testsupport"
)

type noopRunner struct{}

func (noopRunner) Run(context.Context, pipeline.Request) (pipeline.Outcome, error) {
	return pipeline.Outcome{}, nil
}

func newTestAPI(t *testing.T, opts ...testsupport.ConfigOption) (*Daemon, http.Handler, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	d, err := New(cfg, store, noopRunner{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, d.api.routes(cfg.Paths.APIToken, callbackToken(cfg)), cfg
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPISubmitRequiresToken(t *testing.T) {
	_, h, _ := newTestAPI(t, testsupport.WithAPIToken("s3cret"))
	body := DubRequest{SourceKey: "uploads/a.mp4", TargetLanguage: "es"}

	if w := doJSON(t, h, http.MethodPost, "/api/dub", "", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/api/dub", "wrong", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	w := doJSON(t, h, http.MethodPost, "/api/dub", "s3cret", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var view JobView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != "PENDING" || view.TargetLanguage != "es" || view.ID == "" {
		t.Fatalf("unexpected job view %#v", view)
	}
}

func TestAPISubmitNormalizesLanguage(t *testing.T) {
	_, h, _ := newTestAPI(t)
	w := doJSON(t, h, http.MethodPost, "/api/dub", "", DubRequest{SourceKey: "a.mp4", TargetLanguage: "German", Project: "Promo"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var view JobView
	_ = json.Unmarshal(w.Body.Bytes(), &view)
	if view.TargetLanguage != "de" {
		t.Fatalf("expected de, got %q", view.TargetLanguage)
	}

	if w := doJSON(t, h, http.MethodPost, "/api/dub", "", DubRequest{SourceKey: "a.mp4", TargetLanguage: "??"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad language, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/api/dub", "", DubRequest{TargetLanguage: "es"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing source, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/api/dub", "", DubRequest{SourceKey: "a.mp4", TargetLanguage: "es", VoicePresetID: "missing"}); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown preset, got %d", w.Code)
	}
}

func TestAPIGetJob(t *testing.T) {
	d, h, _ := newTestAPI(t)
	job := testsupport.NewJob(t, d.store, "uploads/a.mp4", "fr")

	w := doJSON(t, h, http.MethodGet, "/api/dub/"+job.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var view JobView
	_ = json.Unmarshal(w.Body.Bytes(), &view)
	if view.ID != job.ID || view.StepLabel != "PENDING" {
		t.Fatalf("unexpected view %#v", view)
	}
	if w := doJSON(t, h, http.MethodGet, "/api/dub/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAPIListJobs(t *testing.T) {
	d, h, _ := newTestAPI(t)
	a := testsupport.NewJob(t, d.store, "a.mp4", "fr")
	testsupport.NewJob(t, d.store, "b.mp4", "fr")
	if err := d.store.MarkFailed(context.Background(), a.ID, "boom"); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, h, http.MethodGet, "/api/jobs?status=failed", "", nil)
	var resp JobListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].ID != a.ID || resp.Jobs[0].Error != "boom" {
		t.Fatalf("unexpected list %#v", resp.Jobs)
	}
	if w := doJSON(t, h, http.MethodGet, "/api/jobs?status=bogus", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/api/jobs?user_id=user-1", "", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Jobs) != 2 {
		t.Fatalf("expected 2 jobs for user, got %d", len(resp.Jobs))
	}
}

func TestAPIHealthIsPublic(t *testing.T) {
	_, h, _ := newTestAPI(t, testsupport.WithAPIToken("s3cret"))
	w := doJSON(t, h, http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp HealthResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "ok" || resp.MaxJobs != 2 {
		t.Fatalf("unexpected health %#v", resp)
	}
}

func TestWebhookReceiversUpdateStore(t *testing.T) {
	d, h, cfg := newTestAPI(t, testsupport.WithAPIToken("api"))
	cfg.Callbacks.Token = "hook"
	h = d.api.routes(cfg.Paths.APIToken, callbackToken(cfg))
	ctx := context.Background()
	job := testsupport.NewJob(t, d.store, "a.mp4", "es")

	if w := doJSON(t, h, http.MethodPost, "/api/webhook/job-step", "api", StepCallback{JobID: job.ID, Step: 2}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with api token on webhook, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/api/webhook/job-step", "hook", StepCallback{JobID: job.ID, Step: 2}); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	got, _ := d.store.Get(ctx, job.ID)
	if got.Status != jobs.StatusProcessing || got.Step != jobs.StepTranscribing {
		t.Fatalf("unexpected job after step callback: %s/%d", got.Status, got.Step)
	}

	if w := doJSON(t, h, http.MethodPost, "/api/webhook/job-step", "hook", StepCallback{JobID: job.ID, Step: 9}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid step, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/api/webhook/job-complete", "hook", CompleteCallback{JobID: job.ID, Status: "COMPLETED"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without output key, got %d", w.Code)
	}

	done := CompleteCallback{JobID: job.ID, Status: "COMPLETED", OutputKey: "dubbed_videos/x_es.mp4"}
	if w := doJSON(t, h, http.MethodPost, "/api/webhook/job-complete", "hook", done); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	got, _ = d.store.Get(ctx, job.ID)
	if got.Status != jobs.StatusCompleted || got.OutputKey != done.OutputKey {
		t.Fatalf("unexpected job after completion: %#v", got)
	}

	failed := CompleteCallback{JobID: job.ID, Status: "FAILED", Error: "late"}
	if w := doJSON(t, h, http.MethodPost, "/api/webhook/job-complete", "hook", failed); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for terminal job, got %d", w.Code)
	}
	unknown := CompleteCallback{JobID: "missing", Status: "FAILED", Error: "x"}
	if w := doJSON(t, h, http.MethodPost, "/api/webhook/job-complete", "hook", unknown); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", w.Code)
	}
}

func TestAuthMiddlewareOpenWithoutToken(t *testing.T) {
	called := false
	handler := authMiddleware("", func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("expected handler to run when no token is configured")
	}
}
