package audio

import "context"

// WAVProber measures clip duration from the WAV header.
type WAVProber struct{}

// Duration returns the clip length in seconds.
func (WAVProber) Duration(_ context.Context, path string) (float64, error) {
	info, err := ReadInfo(path)
	if err != nil {
		return 0, err
	}
	return info.Duration(), nil
}

// Duration returns the length of a WAV file in seconds.
func Duration(path string) (float64, error) {
	return WAVProber{}.Duration(context.Background(), path)
}
