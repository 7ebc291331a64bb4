package lipsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"redub/internal/config"
	"redub/internal/logging"
	"redub/internal/services"
)

// museTalkFPS is the frame rate the MuseTalk model is trained on.
const museTalkFPS = 25

const maxErrorBody = 512

// Remote uploads video and audio to a model endpoint at
// POST {base_url}/{backend}/sync and stores the returned video.
type Remote struct {
	backend    string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	converter  FrameRateConverter
	logger     *slog.Logger
}

// NewRemote constructs a Remote syncer for cfg.Backend.
func NewRemote(cfg config.LipSync, converter FrameRateConverter, logger *slog.Logger) (*Remote, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, "lipsync", "init", cfg.Backend+" requires lipsync.base_url", nil)
	}
	timeout := 30 * time.Minute
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Remote{
		backend:    cfg.Backend,
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		converter:  converter,
		logger:     logging.NewComponentLogger(logger, "lipsync"),
	}, nil
}

// Name implements Syncer.
func (r *Remote) Name() string { return r.backend }

// Sync implements Syncer.
func (r *Remote) Sync(ctx context.Context, req Request) error {
	logger := logging.WithContext(ctx, r.logger).With(logging.String("backend", r.backend))

	video := req.VideoPath
	if r.backend == config.LipSyncMuseTalk {
		if r.converter == nil {
			return services.Wrap(services.ErrConfiguration, "lipsync", "musetalk", "frame rate converter unavailable", nil)
		}
		converted := filepath.Join(filepath.Dir(req.OutputPath), fmt.Sprintf("source_%dfps.mp4", museTalkFPS))
		if err := r.converter.ConvertFrameRate(ctx, req.VideoPath, converted, museTalkFPS); err != nil {
			return err
		}
		defer os.Remove(converted)
		video = converted
	}

	body, contentType := multipartBody(req.JobID, video, req.AudioPath)
	defer body.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/"+r.backend+"/sync", body)
	if err != nil {
		return fmt.Errorf("lipsync: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	started := time.Now()
	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTimeout, "lipsync", r.backend, "request interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrTransient, "lipsync", r.backend, "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return services.Wrap(services.StatusMarker(resp.StatusCode), "lipsync", r.backend,
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}

	written, err := writeAtomic(req.OutputPath, resp.Body)
	if err != nil {
		return services.Wrap(services.ErrTransient, "lipsync", r.backend, "store result", err)
	}
	if written == 0 {
		return services.Wrap(services.ErrExternalTool, "lipsync", r.backend, "empty video returned", nil)
	}
	logger.Info("lip-synced video received",
		logging.Int64("bytes", written),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// multipartBody streams the two files without buffering them in memory.
func multipartBody(jobID, videoPath, audioPath string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("job_id", jobID); err != nil {
				return err
			}
			if err := copyPart(mw, "video", videoPath); err != nil {
				return err
			}
			if err := copyPart(mw, "audio", audioPath); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType()
}

func copyPart(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func writeAtomic(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lipsync-*")
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return written, nil
}
