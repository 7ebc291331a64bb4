package daemon

import (
	"time"

	"redub/internal/jobs"
)

// DubRequest is the body of POST /api/dub.
type DubRequest struct {
	SourceKey      string            `json:"source_key"`
	TargetLanguage string            `json:"target_language"`
	UserID         string            `json:"user_id,omitempty"`
	Project        string            `json:"project,omitempty"`
	VoicePresetID  string            `json:"voice_preset_id,omitempty"`
	Glossary       map[string]string `json:"glossary,omitempty"`
}

// JobView is the API rendering of a job.
type JobView struct {
	ID             string     `json:"job_id"`
	UserID         string     `json:"user_id,omitempty"`
	Status         string     `json:"status"`
	Step           int        `json:"step"`
	StepLabel      string     `json:"step_label"`
	SourceKey      string     `json:"source_key"`
	TargetLanguage string     `json:"target_language"`
	VoicePresetID  string     `json:"voice_preset_id,omitempty"`
	OutputKey      string     `json:"output_key,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is the body of GET /api/jobs.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status     string         `json:"status"`
	Running    bool           `json:"running"`
	ActiveJobs []string       `json:"active_jobs"`
	MaxJobs    int            `json:"max_jobs"`
	Counts     map[string]int `json:"counts"`
	LastError  string         `json:"last_error,omitempty"`
}

// StepCallback is the body of POST /api/webhook/job-step.
type StepCallback struct {
	JobID string `json:"job_id"`
	Step  int    `json:"step"`
}

// CompleteCallback is the body of POST /api/webhook/job-complete.
type CompleteCallback struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	OutputKey string `json:"output_key,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewJobView converts a stored job.
func NewJobView(job *jobs.Job) JobView {
	return JobView{
		ID:             job.ID,
		UserID:         job.UserID,
		Status:         string(job.Status),
		Step:           int(job.Step),
		StepLabel:      job.StepLabel(),
		SourceKey:      job.SourceKey,
		TargetLanguage: job.TargetLanguage,
		VoicePresetID:  job.VoicePresetID,
		OutputKey:      job.OutputKey,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		CompletedAt:    job.CompletedAt,
	}
}
