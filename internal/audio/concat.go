package audio

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const concatChunkFrames = 8192

// Concat streams inputs in order into a single WAV at out. Every input must
// share the same format. It returns the total frame count.
func Concat(out string, inputs []string) (Info, error) {
	if len(inputs) == 0 {
		return Info{}, errors.New("concat: no inputs")
	}
	first, err := ReadInfo(inputs[0])
	if err != nil {
		return Info{}, fmt.Errorf("concat: %w", err)
	}

	w, err := newWriter(out, first.Format)
	if err != nil {
		return Info{}, fmt.Errorf("concat: %w", err)
	}
	total := 0
	for idx, input := range inputs {
		frames, err := appendWAV(w, input, first.Format)
		if err != nil {
			_ = w.abort()
			return Info{}, fmt.Errorf("concat input %d (%s): %w", idx, input, err)
		}
		total += frames
	}
	if err := w.close(); err != nil {
		return Info{}, fmt.Errorf("concat: %w", err)
	}
	return Info{Format: first.Format, Frames: total}, nil
}

func appendWAV(w *pcmWriter, path string, want Format) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.New("not a valid PCM wav file")
	}
	got := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans), BitDepth: int(dec.BitDepth)}
	if got != want {
		return 0, fmt.Errorf("format %s does not match %s", got, want)
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, err
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: want.Channels, SampleRate: want.SampleRate},
		Data:           make([]int, concatChunkFrames*want.Channels),
		SourceBitDepth: want.BitDepth,
	}
	samples := 0
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			break
		}
		if err := w.write(buf.Data[:n]); err != nil {
			return 0, err
		}
		samples += n
	}
	return samples / want.Channels, nil
}
