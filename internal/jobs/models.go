package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var allStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// ParseStatus normalizes a user supplied status.
func ParseStatus(value string) (Status, bool) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// AllStatuses returns every job status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step is the numbered progress marker reported while a job is PROCESSING.
type Step int

const (
	StepNone Step = iota
	StepPreparing
	StepTranscribing
	StepTranslating
	StepSynthesizing
	StepLipSyncing
)

// MaxStep is the highest numbered step.
const MaxStep = StepLipSyncing

// Label returns the user-facing step name shown by status sinks.
func (s Step) Label() string {
	switch s {
	case StepPreparing:
		return "Preparing"
	case StepTranscribing:
		return "Transcribing"
	case StepTranslating:
		return "Translating"
	case StepSynthesizing:
		return "Cloning Voice"
	case StepLipSyncing:
		return "Lip Syncing"
	default:
		return "Queued"
	}
}

// Valid reports whether s is a reportable step (1..5).
func (s Step) Valid() bool {
	return s >= StepPreparing && s <= MaxStep
}

// Job is one dubbing request.
type Job struct {
	ID             string
	UserID         string
	Status         Status
	Step           Step
	SourceKey      string
	OutputKey      string
	TargetLanguage string
	VoicePresetID  string
	Glossary       map[string]string
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// StepLabel is the step label while processing, otherwise the status.
func (j *Job) StepLabel() string {
	if j == nil {
		return ""
	}
	if j.Status == StatusProcessing {
		return j.Step.Label()
	}
	return string(j.Status)
}

// NewJob captures the fields accepted when a dub request is created.
type NewJob struct {
	// Project prefixes the generated ID ("{project}-{8 hex}"). Empty means a bare UUID.
	Project        string
	UserID         string
	SourceKey      string
	TargetLanguage string
	VoicePresetID  string
	Glossary       map[string]string
}

// PresetStatus is the lifecycle of a voice preset.
type PresetStatus string

const (
	PresetPending PresetStatus = "PENDING"
	PresetReady   PresetStatus = "READY"
	PresetFailed  PresetStatus = "FAILED"
)

// VoicePreset is precomputed speaker conditioning owned by a user.
type VoicePreset struct {
	ID              string
	UserID          string
	Name            string
	Status          PresetStatus
	ConditioningRef string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Usable reports whether the preset can condition synthesis.
func (p *VoicePreset) Usable() bool {
	return p != nil && p.Status == PresetReady && strings.TrimSpace(p.ConditioningRef) != ""
}

// NewJobID builds a job identifier. A project name yields "{project}-{8 hex}".
func NewJobID(project string) string {
	project = sanitizeProject(project)
	if project == "" {
		return uuid.NewString()
	}
	return project + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func sanitizeProject(project string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(project)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
