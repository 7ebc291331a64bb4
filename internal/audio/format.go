package audio

import (
	"fmt"
	"math"
)

// Format describes an uncompressed PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Mono16 is the aligner's fixed output format at the given rate.
func Mono16(rate int) Format {
	return Format{SampleRate: rate, Channels: 1, BitDepth: 16}
}

// Samples converts seconds to a per-channel sample count, rounding to nearest.
func (f Format) Samples(seconds float64) int {
	if seconds <= 0 || f.SampleRate <= 0 {
		return 0
	}
	return int(math.Round(seconds * float64(f.SampleRate)))
}

// Seconds converts a per-channel sample count to seconds.
func (f Format) Seconds(samples int) float64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return float64(samples) / float64(f.SampleRate)
}

func (f Format) validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio format: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio format: invalid channel count %d", f.Channels)
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("audio format: unsupported bit depth %d", f.BitDepth)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}
