package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"redub/internal/config"
	"redub/internal/daemon"
	"redub/internal/jobs"
	"redub/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliTestEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("redub %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (e *cliTestEnv) store(t *testing.T) *jobs.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, e.cfg)
}

func queuedJobID(t *testing.T, out string) string {
	t.Helper()
	fields := strings.Fields(out)
	if len(fields) < 3 || fields[0] != "Queued" {
		t.Fatalf("unexpected submit output %q", out)
	}
	return fields[2]
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "redub.toml")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[alignment]") {
		t.Fatalf("sample config missing alignment section")
	}

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected already exists error, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	env := setupCLITestEnv(t)
	out := env.mustRun(t, "config", "validate")
	if !strings.Contains(out, "Configuration valid") || !strings.Contains(out, "redub.db") {
		t.Fatalf("unexpected validate output %q", out)
	}
}

func TestSubmitListShowRetry(t *testing.T) {
	env := setupCLITestEnv(t)

	id := queuedJobID(t, env.mustRun(t, "submit", "uploads/talk.mp4", "--lang", "German", "--term", "Acme=Acme", "--project", "Talk"))
	if !strings.HasPrefix(id, "talk-") {
		t.Fatalf("expected project-prefixed id, got %q", id)
	}

	out := env.mustRun(t, "list")
	if !strings.Contains(out, id) || !strings.Contains(out, "PENDING") {
		t.Fatalf("list missing job: %q", out)
	}
	if out := env.mustRun(t, "list", "--status", "failed"); !strings.Contains(out, "No jobs") {
		t.Fatalf("expected empty failed list, got %q", out)
	}

	store := env.store(t)
	if err := store.MarkFailed(context.Background(), id, "translate: upstream 500"); err != nil {
		t.Fatal(err)
	}

	if _, err := env.run(t, "retry", "missing-job"); err == nil {
		t.Fatal("expected retry of unknown job to fail")
	}
	if out := env.mustRun(t, "retry", id); !strings.Contains(out, "Requeued "+id) {
		t.Fatalf("unexpected retry output %q", out)
	}

	var view daemon.JobView
	if err := json.Unmarshal([]byte(env.mustRun(t, "show", id, "--json")), &view); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if view.Status != "PENDING" || view.TargetLanguage != "de" || view.Error != "" {
		t.Fatalf("unexpected job after retry: %#v", view)
	}
	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Glossary["Acme"] != "Acme" {
		t.Fatalf("glossary not stored: %v", job.Glossary)
	}
}

func TestSubmitValidatesInput(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "submit", "a.mp4", "--lang", "not a language"); err == nil {
		t.Fatal("expected error for unknown language")
	}
	if _, err := env.run(t, "submit", "a.mp4", "--lang", "es", "--term", "novalue"); err == nil {
		t.Fatal("expected error for malformed glossary term")
	}
	if _, err := env.run(t, "submit", "a.mp4", "--lang", "es", "--preset", "missing"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestPresetCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	out := env.mustRun(t, "preset", "create", "narrator", "--user", "user-1")
	fields := strings.Fields(out)
	if len(fields) < 3 {
		t.Fatalf("unexpected create output %q", out)
	}
	id := fields[2]

	env.mustRun(t, "preset", "ready", id, "presets/narrator.wav")
	out = env.mustRun(t, "preset", "list", "--user", "user-1")
	if !strings.Contains(out, "narrator") || !strings.Contains(out, "READY") {
		t.Fatalf("unexpected preset list %q", out)
	}

	if out := env.mustRun(t, "submit", "a.mp4", "--lang", "fr", "--preset", id); !strings.HasPrefix(out, "Queued job") {
		t.Fatalf("submit with ready preset: %q", out)
	}
}

func TestStatusReportsDaemonLock(t *testing.T) {
	env := setupCLITestEnv(t)
	out := env.mustRun(t, "status")
	if !strings.Contains(out, "Daemon running") || !strings.Contains(out, "no") {
		t.Fatalf("expected stopped daemon, got %q", out)
	}

	lock := flock.New(env.cfg.LockPath())
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("take lock: %v %v", ok, err)
	}
	defer lock.Unlock()

	out = env.mustRun(t, "status")
	if !strings.Contains(out, "yes") {
		t.Fatalf("expected running daemon, got %q", out)
	}
}
