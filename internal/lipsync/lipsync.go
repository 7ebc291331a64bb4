// Package lipsync replaces a video's speech track and, for remote model
// backends, re-renders mouth movement to match it.
package lipsync

import (
	"context"
	"fmt"
	"log/slog"

	"redub/internal/config"
	"redub/internal/logging"
	"redub/internal/services"
)

// Request describes one lip-sync run.
type Request struct {
	JobID      string
	VideoPath  string
	AudioPath  string
	OutputPath string
}

// Syncer produces the dubbed video at req.OutputPath.
type Syncer interface {
	Sync(ctx context.Context, req Request) error
	Name() string
}

// Muxer swaps a video's audio track.
type Muxer interface {
	ReplaceAudio(ctx context.Context, video, track, out string) error
}

// FrameRateConverter re-encodes a video at a fixed frame rate.
type FrameRateConverter interface {
	ConvertFrameRate(ctx context.Context, in, out string, fps int) error
}

// Tools is the local media tooling a backend may need.
type Tools interface {
	Muxer
	FrameRateConverter
}

// New selects the backend named in cfg.
func New(cfg config.LipSync, tools Tools, logger *slog.Logger) (Syncer, error) {
	logger = logging.NewComponentLogger(logger, "lipsync")
	switch cfg.Backend {
	case "", config.LipSyncMux:
		return &Mux{muxer: tools, logger: logger}, nil
	case config.LipSyncMuseTalk, config.LipSyncWav2Lip, config.LipSyncLatentSync:
		return NewRemote(cfg, tools, logger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "lipsync", "init", fmt.Sprintf("unknown backend %q", cfg.Backend), nil)
	}
}

// Mux replaces the audio track without touching the picture.
type Mux struct {
	muxer  Muxer
	logger *slog.Logger
}

// NewMux constructs a Mux syncer.
func NewMux(muxer Muxer, logger *slog.Logger) *Mux {
	return &Mux{muxer: muxer, logger: logging.NewComponentLogger(logger, "lipsync")}
}

// Name implements Syncer.
func (m *Mux) Name() string { return config.LipSyncMux }

// Sync implements Syncer.
func (m *Mux) Sync(ctx context.Context, req Request) error {
	if err := m.muxer.ReplaceAudio(ctx, req.VideoPath, req.AudioPath, req.OutputPath); err != nil {
		return err
	}
	logging.WithContext(ctx, m.logger).Info("audio track replaced", logging.String("output", req.OutputPath))
	return nil
}
