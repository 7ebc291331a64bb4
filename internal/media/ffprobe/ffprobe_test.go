package ffprobe_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"redub/internal/media/ffprobe"
)

func writeStub(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffprobe")
	script := "#!/bin/sh\ncat <<'JSON'\n" + body + "\nJSON\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestInspectParsesStreams(t *testing.T) {
	stub := writeStub(t, `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "r_frame_rate": "30000/1001"},
    {"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2, "duration": "12.40"}
  ],
  "format": {"duration": "12.512", "format_name": "mov,mp4"}
}`)

	result, err := ffprobe.Inspect(context.Background(), stub, "/tmp/source.mp4")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	video, ok := result.VideoStream()
	if !ok || video.Width != 1280 {
		t.Fatalf("unexpected video stream: %+v", video)
	}
	if fps := video.FrameRate(); math.Abs(fps-29.97) > 0.01 {
		t.Fatalf("FrameRate = %v", fps)
	}
	if audio, ok := result.AudioStream(); !ok || audio.Channels != 2 {
		t.Fatalf("unexpected audio stream: %+v", audio)
	}
	if d := result.DurationSeconds(); d != 12.512 {
		t.Fatalf("DurationSeconds = %v", d)
	}
}

func TestProberFallsBackToStreamDuration(t *testing.T) {
	stub := writeStub(t, `{"streams": [{"codec_type": "audio", "duration": "3.25"}], "format": {}}`)
	d, err := ffprobe.Prober{Binary: stub}.Duration(context.Background(), "/tmp/clip.mp3")
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if d != 3.25 {
		t.Fatalf("Duration = %v", d)
	}
}

func TestProberRejectsMissingDuration(t *testing.T) {
	stub := writeStub(t, `{"streams": [], "format": {}}`)
	if _, err := (ffprobe.Prober{Binary: stub}).Duration(context.Background(), "/tmp/x"); err == nil {
		t.Fatal("expected error when no duration is reported")
	}
}

func TestInspectRequiresPath(t *testing.T) {
	if _, err := ffprobe.Inspect(context.Background(), "ffprobe", " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
