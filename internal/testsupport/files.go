package testsupport

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"redub/internal/audio"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteTone writes a mono 16-bit WAV of exactly round(seconds*rate) samples
// holding a 440 Hz sine.
func WriteTone(t testing.TB, path string, seconds float64, rate int) {
	t.Helper()

	format := audio.Format{SampleRate: rate, Channels: 1, BitDepth: 16}
	n := format.Samples(seconds)
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	if err := audio.WritePCM(path, format, samples); err != nil {
		t.Fatalf("write tone %s: %v", path, err)
	}
}

// ToneBytes returns the encoded WAV that WriteTone would produce.
func ToneBytes(t testing.TB, seconds float64, rate int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	WriteTone(t, path, seconds, rate)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read tone: %v", err)
	}
	return data
}

// ReadPCM loads all interleaved samples from a PCM WAV. It returns an error
// rather than failing the test so fake backends can call it.
func ReadPCM(path string) (audio.Format, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Format{}, nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return audio.Format{}, nil, fmt.Errorf("read wav %s: not a valid PCM wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return audio.Format{}, nil, fmt.Errorf("read wav %s: %w", path, err)
	}
	format := audio.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans), BitDepth: int(dec.BitDepth)}
	return format, buf.Data, nil
}
