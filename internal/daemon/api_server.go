package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"redub/internal/config"
	"redub/internal/jobs"
	"redub/internal/language"
	"redub/internal/logging"
	"redub/internal/services"
)

const maxBodyBytes = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken, callbackToken(cfg)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// callbackToken authenticates webhook receivers. Remote workers sign with the
// callback token when one is configured, otherwise with the API token.
func callbackToken(cfg *config.Config) string {
	if token := strings.TrimSpace(cfg.Callbacks.Token); token != "" {
		return token
	}
	return cfg.Paths.APIToken
}

func (s *apiServer) routes(apiToken, hookToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/dub", authMiddleware(apiToken, s.handleSubmit))
	mux.HandleFunc("GET /api/dub/{id}", authMiddleware(apiToken, s.handleJob))
	mux.HandleFunc("GET /api/jobs", authMiddleware(apiToken, s.handleJobs))
	mux.HandleFunc("POST /api/webhook/job-step", authMiddleware(hookToken, s.handleStepCallback))
	mux.HandleFunc("POST /api/webhook/job-complete", authMiddleware(hookToken, s.handleCompleteCallback))
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	counts := make(map[string]int, len(status.Counts))
	for k, v := range status.Counts {
		counts[string(k)] = v
	}
	resp := HealthResponse{
		Status:     "ok",
		Running:    status.Running,
		ActiveJobs: status.ActiveJobs,
		MaxJobs:    status.MaxJobs,
		Counts:     counts,
		LastError:  status.LastError,
	}
	code := http.StatusOK
	if err := s.daemon.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.LastError = err.Error()
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req DubRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SourceKey) == "" {
		s.writeError(w, http.StatusBadRequest, "source_key is required")
		return
	}
	lang, err := language.Normalize(req.TargetLanguage)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if id := strings.TrimSpace(req.VoicePresetID); id != "" {
		if _, err := s.daemon.store.GetPreset(r.Context(), id); err != nil {
			s.writeStoreError(w, err)
			return
		}
	}
	job, err := s.daemon.Submit(r.Context(), jobs.NewJob{
		Project:        req.Project,
		UserID:         req.UserID,
		SourceKey:      req.SourceKey,
		TargetLanguage: lang,
		VoicePresetID:  req.VoicePresetID,
		Glossary:       req.Glossary,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, NewJobView(job))
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewJobView(job))
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var (
		list []*jobs.Job
		err  error
	)
	if user := strings.TrimSpace(query.Get("user_id")); user != "" {
		limit, _ := strconv.Atoi(query.Get("limit"))
		list, err = s.daemon.store.ListByUser(r.Context(), user, limit)
	} else {
		var statuses []jobs.Status
		for _, value := range query["status"] {
			status, ok := jobs.ParseStatus(value)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
				return
			}
			statuses = append(statuses, status)
		}
		list, err = s.daemon.store.List(r.Context(), statuses...)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := JobListResponse{Jobs: make([]JobView, 0, len(list))}
	for _, job := range list {
		resp.Jobs = append(resp.Jobs, NewJobView(job))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleStepCallback(w http.ResponseWriter, r *http.Request) {
	var body StepCallback
	if !s.decode(w, r, &body) {
		return
	}
	step := jobs.Step(body.Step)
	if strings.TrimSpace(body.JobID) == "" || !step.Valid() {
		s.writeError(w, http.StatusBadRequest, "job_id and a step between 1 and 5 are required")
		return
	}
	if err := s.daemon.store.SetStep(r.Context(), body.JobID, step); err != nil {
		s.writeStoreError(w, err)
		return
	}
	logging.WithContext(services.WithJobID(r.Context(), body.JobID), s.logger).Debug("step callback applied",
		logging.Int("step", body.Step),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleCompleteCallback(w http.ResponseWriter, r *http.Request) {
	var body CompleteCallback
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.JobID) == "" {
		s.writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	status, _ := jobs.ParseStatus(body.Status)
	var err error
	switch status {
	case jobs.StatusCompleted:
		if strings.TrimSpace(body.OutputKey) == "" {
			s.writeError(w, http.StatusBadRequest, "output_key is required for COMPLETED")
			return
		}
		err = s.daemon.store.MarkCompleted(r.Context(), body.JobID, body.OutputKey)
	case jobs.StatusFailed:
		err = s.daemon.store.MarkFailed(r.Context(), body.JobID, body.Error)
	default:
		s.writeError(w, http.StatusBadRequest, "status must be COMPLETED or FAILED")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	logging.WithContext(services.WithJobID(r.Context(), body.JobID), s.logger).Info("completion callback applied",
		logging.String("status", string(status)),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func (s *apiServer) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, jobs.ErrTerminal):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
