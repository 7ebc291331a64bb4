// Package aligner builds one continuous dubbed audio track whose segment
// boundaries follow the source video's timing.
//
// Each translated segment is synthesized, normalized to a fixed mono PCM
// format, time-stretched toward its source duration and placed after a
// silence that covers the gap since the previous spoken segment.
package aligner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"redub/internal/audio"
	"redub/internal/config"
	"redub/internal/logging"
	"redub/internal/segments"
	"redub/internal/services"
)

const stageName = "synthesize"

// Synthesizer turns text into a raw audio clip in any container ffmpeg can read.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
}

// SynthesisRequest carries one utterance. At most one of SpeakerReference and
// SpeakerConditioning is set.
type SynthesisRequest struct {
	Text                string
	Language            string
	SpeakerReference    string
	SpeakerConditioning string
}

// Normalizer converts a raw clip into a PCM WAV of the given format.
type Normalizer interface {
	Normalize(ctx context.Context, in, out string, format audio.Format) error
}

// Stretcher time-scales a clip by an arbitrary ratio; above 1 shortens it.
type Stretcher interface {
	Stretch(ctx context.Context, in, out string, ratio float64) error
}

// Prober measures clip duration in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Options are the aligner's tuning knobs.
type Options struct {
	SampleRate    int
	Damping       float64
	MinTempo      float64
	MaxTempo      float64
	GapThreshold  float64
	MinMeasurable float64
	Workers       int
}

// OptionsFromConfig maps the [alignment] section onto Options.
func OptionsFromConfig(cfg config.Alignment) Options {
	return Options{
		SampleRate:    cfg.SampleRate,
		Damping:       cfg.Damping,
		MinTempo:      cfg.MinTempo,
		MaxTempo:      cfg.MaxTempo,
		GapThreshold:  cfg.GapThreshold,
		MinMeasurable: cfg.MinMeasurable,
		Workers:       cfg.SynthesisWorkers,
	}
}

// DefaultOptions returns the configuration defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Alignment)
}

// Tempo returns the damped, clamped tempo for a clip of raw seconds that
// should last target seconds.
func (o Options) Tempo(raw, target float64) float64 {
	tempo := 1 + o.Damping*(raw/target-1)
	return math.Min(math.Max(tempo, o.MinTempo), o.MaxTempo)
}

// Format is the fixed output format.
func (o Options) Format() audio.Format {
	return audio.Mono16(o.SampleRate)
}

// Dependencies are the aligner's collaborators. Prober defaults to reading WAV headers.
type Dependencies struct {
	Synthesizer Synthesizer
	Normalizer  Normalizer
	Stretcher   Stretcher
	Prober      Prober
}

// Request describes one alignment run.
type Request struct {
	JobID               string
	Segments            []segments.Segment
	TargetLanguage      string
	SpeakerReference    string
	SpeakerConditioning string
	// WorkDir receives intermediate pieces under pieces/ and the final track.
	WorkDir string
	// OutputPath defaults to WorkDir/dubbed_audio.wav.
	OutputPath string
}

// PieceKind distinguishes silence from speech.
type PieceKind string

const (
	PieceSilence PieceKind = "silence"
	PieceSpeech  PieceKind = "speech"
)

// Piece is one entry of the concatenation list.
type Piece struct {
	Kind     PieceKind
	Segment  int
	Path     string
	Duration float64
	Tempo    float64
}

// Track is the aligned output.
type Track struct {
	Path     string
	Duration float64
	Format   audio.Format
	Pieces   []Piece
}

// Aligner assembles aligned tracks.
type Aligner struct {
	opts   Options
	deps   Dependencies
	logger *slog.Logger
}

// New constructs an Aligner.
func New(opts Options, deps Dependencies, logger *slog.Logger) (*Aligner, error) {
	if deps.Synthesizer == nil || deps.Normalizer == nil || deps.Stretcher == nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "synthesizer, normalizer and stretcher are required", nil)
	}
	if deps.Prober == nil {
		deps.Prober = audio.WAVProber{}
	}
	if opts.SampleRate <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", fmt.Sprintf("invalid sample rate %d", opts.SampleRate), nil)
	}
	if opts.Damping <= 0 || opts.Damping > 1 || opts.MinTempo <= 0 || opts.MinTempo > opts.MaxTempo {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "invalid damping or tempo bounds", nil)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Aligner{opts: opts, deps: deps, logger: logging.NewComponentLogger(logger, "aligner")}, nil
}

type speechClip struct {
	path  string
	raw   float64
	tempo float64
}

// Align builds the track for req.
func (a *Aligner) Align(ctx context.Context, req Request) (Track, error) {
	if req.WorkDir == "" {
		return Track{}, services.Wrap(services.ErrValidation, stageName, "align", "work dir is required", nil)
	}
	logger := logging.WithContext(ctx, a.logger)
	format := a.opts.Format()

	piecesDir := filepath.Join(req.WorkDir, "pieces")
	if err := os.RemoveAll(piecesDir); err != nil {
		return Track{}, fmt.Errorf("reset pieces dir: %w", err)
	}
	if err := os.MkdirAll(piecesDir, 0o755); err != nil {
		return Track{}, fmt.Errorf("create pieces dir: %w", err)
	}

	clips, err := a.renderAll(ctx, req, piecesDir)
	if err != nil {
		return Track{}, err
	}

	var pieces []Piece
	prevEnd := 0.0
	for idx, seg := range req.Segments {
		clip := clips[idx]
		if clip == nil {
			continue
		}
		if gap := seg.Start - prevEnd; gap > a.opts.GapThreshold {
			path := filepath.Join(piecesDir, fmt.Sprintf("gap_%03d.wav", idx))
			frames, err := audio.WriteSilence(path, gap, format)
			if err != nil {
				return Track{}, fmt.Errorf("segment %d: %w", idx, err)
			}
			pieces = append(pieces, Piece{Kind: PieceSilence, Segment: idx, Path: path, Duration: format.Seconds(frames), Tempo: 1})
		}
		duration, err := a.deps.Prober.Duration(ctx, clip.path)
		if err != nil {
			return Track{}, fmt.Errorf("segment %d: measure clip: %w", idx, err)
		}
		pieces = append(pieces, Piece{Kind: PieceSpeech, Segment: idx, Path: clip.path, Duration: duration, Tempo: clip.tempo})
		prevEnd = seg.End
	}
	if len(pieces) == 0 {
		return Track{}, services.Wrap(services.ErrValidation, stageName, "align",
			fmt.Sprintf("no audio produced from %d segments: every translated text is empty", len(req.Segments)), nil)
	}

	out := req.OutputPath
	if out == "" {
		out = filepath.Join(req.WorkDir, "dubbed_audio.wav")
	}
	paths := make([]string, len(pieces))
	for i, p := range pieces {
		paths[i] = p.Path
	}
	info, err := audio.Concat(out, paths)
	if err != nil {
		return Track{}, services.Wrap(services.ErrExternalTool, stageName, "concat", "failed to concatenate pieces", err)
	}

	track := Track{Path: out, Duration: info.Duration(), Format: info.Format, Pieces: pieces}
	logger.Info("aligned track assembled",
		logging.Int("segments", len(req.Segments)),
		logging.Int("pieces", len(pieces)),
		logging.Seconds("duration_seconds", track.Duration),
		logging.String("path", out),
	)
	return track, nil
}

// renderAll synthesizes every non-empty segment, using up to Workers
// goroutines. The result is indexed by segment; silent segments stay nil.
func (a *Aligner) renderAll(ctx context.Context, req Request, dir string) ([]*speechClip, error) {
	clips := make([]*speechClip, len(req.Segments))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	work := make(chan int)
	for w := 0; w < a.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				clip, err := a.renderSegment(runCtx, req, dir, idx)
				if err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
					continue
				}
				clips[idx] = clip
			}
		}()
	}

feed:
	for idx, seg := range req.Segments {
		if seg.Silent() {
			continue
		}
		select {
		case work <- idx:
		case <-runCtx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, services.Wrap(services.ErrTimeout, stageName, "align", "interrupted", err)
	}
	return clips, nil
}

func (a *Aligner) renderSegment(ctx context.Context, req Request, dir string, idx int) (*speechClip, error) {
	seg := req.Segments[idx]
	logger := logging.WithContext(ctx, a.logger).With(logging.Int(logging.FieldSegment, idx))

	synth := SynthesisRequest{Text: seg.TranslatedText, Language: req.TargetLanguage}
	if req.SpeakerConditioning != "" {
		synth.SpeakerConditioning = req.SpeakerConditioning
	} else {
		synth.SpeakerReference = req.SpeakerReference
	}
	data, err := a.deps.Synthesizer.Synthesize(ctx, synth)
	if err != nil {
		return nil, fmt.Errorf("segment %d: %w", idx, err)
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, stageName, "synthesize", fmt.Sprintf("segment %d: empty audio", idx), nil)
	}

	rawPath := filepath.Join(dir, fmt.Sprintf("seg_%03d.raw", idx))
	if err := os.WriteFile(rawPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("segment %d: write raw clip: %w", idx, err)
	}
	clipPath := filepath.Join(dir, fmt.Sprintf("seg_%03d.wav", idx))
	if err := a.deps.Normalizer.Normalize(ctx, rawPath, clipPath, a.opts.Format()); err != nil {
		return nil, fmt.Errorf("segment %d: %w", idx, err)
	}
	_ = os.Remove(rawPath)

	raw, err := a.deps.Prober.Duration(ctx, clipPath)
	if err != nil {
		return nil, fmt.Errorf("segment %d: measure raw clip: %w", idx, err)
	}
	target := seg.Duration()
	clip := &speechClip{path: clipPath, raw: raw, tempo: 1}

	if raw <= a.opts.MinMeasurable || target <= a.opts.MinMeasurable {
		logger.Debug("segment too short to stretch", logging.Seconds("raw_seconds", raw), logging.Seconds("target_seconds", target))
		return clip, nil
	}
	clip.tempo = a.opts.Tempo(raw, target)
	if math.Abs(clip.tempo-1) < 1e-3 {
		clip.tempo = 1
		return clip, nil
	}

	fitted := filepath.Join(dir, fmt.Sprintf("seg_%03d.fit.wav", idx))
	if err := a.deps.Stretcher.Stretch(ctx, clipPath, fitted, clip.tempo); err != nil {
		return nil, fmt.Errorf("segment %d: %w", idx, err)
	}
	clip.path = fitted
	logger.Debug("segment stretched",
		logging.Seconds("raw_seconds", raw),
		logging.Seconds("target_seconds", target),
		logging.Float64("tempo", clip.tempo),
	)
	return clip, nil
}
