package jobs_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"redub/internal/jobs"
	"redub/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := store.Create(ctx, jobs.NewJob{
		Project:        "Demo Reel",
		UserID:         "user-7",
		SourceKey:      "uploads/demo.mp4",
		TargetLanguage: "es",
		Glossary:       map[string]string{"Acme": "Acme"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(job.ID, "demo-reel-") || len(job.ID) != len("demo-reel-")+8 {
		t.Fatalf("unexpected job id %q", job.ID)
	}
	if job.Status != jobs.StatusPending || job.Step != jobs.StepNone {
		t.Fatalf("expected pending job at step 0, got %s/%d", job.Status, job.Step)
	}
	if job.OutputKey != "" || job.Error != "" || job.CompletedAt != nil {
		t.Fatalf("new job carries terminal fields: %#v", job)
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Glossary["Acme"] != "Acme" || fetched.UserID != "user-7" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
}

func TestCreateRequiresSourceAndLanguage(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	if _, err := store.Create(ctx, jobs.NewJob{TargetLanguage: "es"}); err == nil {
		t.Fatal("expected error when source missing")
	}
	if _, err := store.Create(ctx, jobs.NewJob{SourceKey: "a.mp4"}); err == nil {
		t.Fatal("expected error when language missing")
	}
}

func TestGetUnknownJob(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetStep(context.Background(), "missing", jobs.StepPreparing); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from SetStep, got %v", err)
	}
}

func TestStepLifecycleToCompleted(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", "fr")

	for step := jobs.StepPreparing; step <= jobs.MaxStep; step++ {
		if err := store.SetStep(ctx, job.ID, step); err != nil {
			t.Fatalf("SetStep(%d) failed: %v", step, err)
		}
		got, _ := store.Get(ctx, job.ID)
		if got.Status != jobs.StatusProcessing || got.Step != step {
			t.Fatalf("after SetStep(%d): %s/%d", step, got.Status, got.Step)
		}
	}

	// stale lower step is ignored
	if err := store.SetStep(ctx, job.ID, jobs.StepTranscribing); err != nil {
		t.Fatalf("stale SetStep returned error: %v", err)
	}
	if got, _ := store.Get(ctx, job.ID); got.Step != jobs.StepLipSyncing {
		t.Fatalf("step moved backwards to %d", got.Step)
	}

	if err := store.MarkCompleted(ctx, job.ID, "dubbed_videos/x_fr.mp4"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != jobs.StatusCompleted || got.OutputKey != "dubbed_videos/x_fr.mp4" || got.Error != "" || got.CompletedAt == nil {
		t.Fatalf("unexpected completed job: %#v", got)
	}

	if err := store.MarkFailed(ctx, job.ID, "late failure"); !errors.Is(err, jobs.ErrTerminal) {
		t.Fatalf("expected ErrTerminal after completion, got %v", err)
	}
	if err := store.SetStep(ctx, job.ID, jobs.StepLipSyncing); !errors.Is(err, jobs.ErrTerminal) {
		t.Fatalf("expected ErrTerminal for SetStep after completion, got %v", err)
	}
}

func TestMarkFailedKeepsInvariant(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", "de")

	if err := store.SetStep(ctx, job.ID, jobs.StepTranscribing); err != nil {
		t.Fatalf("SetStep failed: %v", err)
	}
	if err := store.MarkFailed(ctx, job.ID, "   "); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != jobs.StatusFailed || got.Error != "unknown failure" || got.OutputKey != "" {
		t.Fatalf("unexpected failed job: %#v", got)
	}
	if err := store.MarkCompleted(ctx, job.ID, "k"); !errors.Is(err, jobs.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}

	if err := store.Requeue(ctx, job.ID); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	got, _ = store.Get(ctx, job.ID)
	if got.Status != jobs.StatusPending || got.Error != "" || got.Step != jobs.StepNone {
		t.Fatalf("unexpected requeued job: %#v", got)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", "it")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Claim(ctx, job.ID)
			if err != nil {
				t.Errorf("Claim failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one claim winner, got %d", winners)
	}
}

func TestResetStuckProcessing(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	stuck := testsupport.NewJob(t, store, "a.mp4", "es")
	done := testsupport.NewJob(t, store, "b.mp4", "es")
	if err := store.SetStep(ctx, stuck.ID, jobs.StepSynthesizing); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkCompleted(ctx, done.ID, "out.mp4"); err != nil {
		t.Fatal(err)
	}

	n, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reset, got %d", n)
	}
	got, _ := store.Get(ctx, stuck.ID)
	if got.Status != jobs.StatusPending || got.Step != jobs.StepNone {
		t.Fatalf("unexpected reset job: %s/%d", got.Status, got.Step)
	}
	if got, _ := store.Get(ctx, done.ID); got.Status != jobs.StatusCompleted {
		t.Fatalf("completed job touched: %s", got.Status)
	}

	pending, err := store.NextPending(ctx, 10)
	if err != nil || len(pending) != 1 || pending[0].ID != stuck.ID {
		t.Fatalf("NextPending = %v, %v", pending, err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[jobs.StatusPending] != 1 || stats[jobs.StatusCompleted] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestPresetLifecycle(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	preset, err := store.CreatePreset(ctx, "user-1", "narrator")
	if err != nil {
		t.Fatalf("CreatePreset failed: %v", err)
	}
	if preset.Status != jobs.PresetPending || preset.Usable() {
		t.Fatalf("new preset should be pending and unusable: %#v", preset)
	}
	if err := store.MarkPresetReady(ctx, preset.ID, "presets/narrator.pth"); err != nil {
		t.Fatalf("MarkPresetReady failed: %v", err)
	}
	got, err := store.GetPreset(ctx, preset.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Usable() || got.ConditioningRef != "presets/narrator.pth" {
		t.Fatalf("expected usable preset, got %#v", got)
	}

	list, err := store.ListPresets(ctx, "user-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListPresets = %v, %v", list, err)
	}
	if err := store.MarkPresetFailed(ctx, "missing", "x"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStepLabels(t *testing.T) {
	want := map[jobs.Step]string{
		jobs.StepPreparing:    "Preparing",
		jobs.StepTranscribing: "Transcribing",
		jobs.StepTranslating:  "Translating",
		jobs.StepSynthesizing: "Cloning Voice",
		jobs.StepLipSyncing:   "Lip Syncing",
	}
	for step, label := range want {
		if got := step.Label(); got != label {
			t.Fatalf("Step(%d).Label() = %q, want %q", step, got, label)
		}
	}
}
