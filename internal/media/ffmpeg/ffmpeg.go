// Package ffmpeg wraps the ffmpeg invocations the pipeline needs: reference
// clip and speech extraction, PCM normalization, bounded atempo stretching, frame-rate
// conversion and audio track replacement.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"redub/internal/audio"
	"redub/internal/services"
)

// atempo accepts 0.5..100 on current builds; the pipeline keeps each call within 0.5..2.0.
const (
	MinAtempo = 0.5
	MaxAtempo = 2.0
)

// Runner executes ffmpeg.
type Runner struct {
	Binary string
}

// New returns a Runner for the given binary, defaulting to "ffmpeg" on PATH.
func New(binary string) *Runner {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &Runner{Binary: binary}
}

// ExtractReference writes the first seconds of the video's audio as mono PCM at rate.
func (r *Runner) ExtractReference(ctx context.Context, video, out string, seconds float64, rate int) error {
	return r.run(ctx, "extract reference",
		"-y", "-i", video,
		"-t", formatFloat(seconds),
		"-vn", "-ac", "1", "-ar", strconv.Itoa(rate),
		"-acodec", "pcm_s16le",
		out,
	)
}

// ExtractSpeech writes the whole audio track as 16 kHz mono PCM for transcription.
func (r *Runner) ExtractSpeech(ctx context.Context, video, out string) error {
	return r.run(ctx, "extract speech",
		"-y", "-i", video,
		"-vn", "-ac", "1", "-ar", "16000",
		"-acodec", "pcm_s16le",
		out,
	)
}

// Normalize converts any audio input into a PCM WAV of the given format.
func (r *Runner) Normalize(ctx context.Context, in, out string, format audio.Format) error {
	codec, err := pcmCodec(format.BitDepth)
	if err != nil {
		return err
	}
	return r.run(ctx, "normalize",
		"-y", "-i", in,
		"-vn", "-ac", strconv.Itoa(format.Channels), "-ar", strconv.Itoa(format.SampleRate),
		"-acodec", codec,
		out,
	)
}

// StretchStep applies one pitch-preserving atempo pass. Ratios outside
// [MinAtempo, MaxAtempo] are rejected; callers chain steps through audio.ChainStretcher.
func (r *Runner) StretchStep(ctx context.Context, in, out string, ratio float64) error {
	if ratio < MinAtempo || ratio > MaxAtempo {
		return services.Wrap(services.ErrValidation, "ffmpeg", "atempo",
			fmt.Sprintf("ratio %.4f outside [%.1f, %.1f]", ratio, MinAtempo, MaxAtempo), nil)
	}
	return r.run(ctx, "atempo",
		"-y", "-i", in,
		"-filter:a", "atempo="+formatFloat(ratio),
		"-acodec", "pcm_s16le",
		out,
	)
}

// ConvertFrameRate re-encodes video at fps, copying audio.
func (r *Runner) ConvertFrameRate(ctx context.Context, in, out string, fps int) error {
	return r.run(ctx, "frame rate",
		"-y", "-i", in,
		"-r", strconv.Itoa(fps),
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "18",
		"-c:a", "copy",
		out,
	)
}

// ReplaceAudio muxes video's picture with a new audio track. The video stream is copied.
func (r *Runner) ReplaceAudio(ctx context.Context, video, track, out string) error {
	return r.run(ctx, "replace audio",
		"-y", "-i", video, "-i", track,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac", "-b:a", "192k",
		"-movflags", "+faststart",
		out,
	)
}

func (r *Runner) run(ctx context.Context, op string, args ...string) error {
	cmd := exec.CommandContext(ctx, r.Binary, append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTimeout, "ffmpeg", op, "interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrExternalTool, "ffmpeg", op, tail(string(output), 400), err)
	}
	return nil
}

func pcmCodec(bitDepth int) (string, error) {
	switch bitDepth {
	case 16:
		return "pcm_s16le", nil
	case 24:
		return "pcm_s24le", nil
	case 32:
		return "pcm_s32le", nil
	default:
		return "", fmt.Errorf("ffmpeg normalize: unsupported bit depth %d", bitDepth)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
