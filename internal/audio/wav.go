package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// Info describes a WAV file without loading its samples.
type Info struct {
	Format Format
	// Frames is the per-channel sample count.
	Frames int
}

// Duration returns the exact length in seconds.
func (i Info) Duration() float64 {
	return i.Format.Seconds(i.Frames)
}

// ReadInfo parses the WAV header and data chunk size of path.
func ReadInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("read wav %s: not a valid PCM wav file", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("read wav %s: %w", path, err)
	}
	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans), BitDepth: int(dec.BitDepth)}
	if err := format.validate(); err != nil {
		return Info{}, fmt.Errorf("read wav %s: %w", path, err)
	}
	bytesPerFrame := format.Channels * format.BitDepth / 8
	return Info{Format: format, Frames: int(dec.PCMSize) / bytesPerFrame}, nil
}

// WritePCM writes interleaved integer samples to path as a PCM WAV.
func WritePCM(path string, format Format, samples []int) error {
	if err := format.validate(); err != nil {
		return err
	}
	w, err := newWriter(path, format)
	if err != nil {
		return err
	}
	if err := w.write(samples); err != nil {
		_ = w.abort()
		return err
	}
	return w.close()
}

// pcmWriter streams samples into a WAV file. The encoder patches chunk sizes on close.
type pcmWriter struct {
	file   *os.File
	enc    *wav.Encoder
	format Format
	wrote  bool
}

func newWriter(path string, format Format) (*pcmWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}
	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM)
	return &pcmWriter{file: f, enc: enc, format: format}, nil
}

func (w *pcmWriter) write(samples []int) error {
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: w.format.Channels, SampleRate: w.format.SampleRate},
		Data:           samples,
		SourceBitDepth: w.format.BitDepth,
	}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	w.wrote = true
	return nil
}

func (w *pcmWriter) close() error {
	// the encoder only emits a header on the first Write
	if !w.wrote {
		if err := w.write(nil); err != nil {
			_ = w.abort()
			return err
		}
	}
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	return errors.Join(encErr, fileErr)
}

func (w *pcmWriter) abort() error {
	name := w.file.Name()
	_ = w.file.Close()
	return os.Remove(name)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
