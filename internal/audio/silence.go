package audio

import "fmt"

// WriteSilence writes a clip of exactly round(seconds*rate) zero frames and
// returns the frame count.
func WriteSilence(path string, seconds float64, format Format) (int, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("silence: negative duration %.3fs", seconds)
	}
	if err := format.validate(); err != nil {
		return 0, err
	}
	frames := format.Samples(seconds)
	if err := WritePCM(path, format, make([]int, frames*format.Channels)); err != nil {
		return 0, fmt.Errorf("silence: %w", err)
	}
	return frames, nil
}
