package aligner_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"redub/internal/aligner"
	"redub/internal/audio"
	"redub/internal/segments"
	"redub/internal/services"
	"redub/internal/testsupport"
)

const rate = 24000

// fakeSynth returns a WAV tone whose length is looked up by text.
type fakeSynth struct {
	dir       string
	durations map[string]float64
	counter   atomic.Int64

	mu       sync.Mutex
	requests []aligner.SynthesisRequest
}

func newFakeSynth(t *testing.T, durations map[string]float64) *fakeSynth {
	return &fakeSynth{dir: t.TempDir(), durations: durations}
}

func (f *fakeSynth) Synthesize(_ context.Context, req aligner.SynthesisRequest) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	seconds, ok := f.durations[req.Text]
	if !ok {
		return nil, fmt.Errorf("tts backend rejected %q", req.Text)
	}
	path := filepath.Join(f.dir, fmt.Sprintf("tts_%d.wav", f.counter.Add(1)))
	format := audio.Mono16(rate)
	if err := audio.WritePCM(path, format, make([]int, format.Samples(seconds))); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// copyNormalizer passes clips through; the fake synthesizer already emits the target format.
type copyNormalizer struct{}

func (copyNormalizer) Normalize(_ context.Context, in, out string, _ audio.Format) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

// resampleStretcher writes round(frames/ratio) frames and records each ratio.
type resampleStretcher struct {
	mu     sync.Mutex
	ratios []float64
}

func (s *resampleStretcher) Stretch(_ context.Context, in, out string, ratio float64) error {
	s.mu.Lock()
	s.ratios = append(s.ratios, ratio)
	s.mu.Unlock()

	format, samples, err := testsupport.ReadPCM(in)
	if err != nil {
		return err
	}
	frames := int(math.Round(float64(len(samples)) / ratio))
	return audio.WritePCM(out, format, make([]int, frames))
}

func (s *resampleStretcher) calls() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.ratios...)
}

func newAligner(t *testing.T, synth aligner.Synthesizer, stretch aligner.Stretcher, workers int) *aligner.Aligner {
	t.Helper()
	opts := aligner.DefaultOptions()
	opts.Workers = workers
	a, err := aligner.New(opts, aligner.Dependencies{
		Synthesizer: synth,
		Normalizer:  copyNormalizer{},
		Stretcher:   stretch,
	}, nil)
	if err != nil {
		t.Fatalf("aligner.New: %v", err)
	}
	return a
}

func kinds(pieces []aligner.Piece) []aligner.PieceKind {
	out := make([]aligner.PieceKind, len(pieces))
	for i, p := range pieces {
		out[i] = p.Kind
	}
	return out
}

func assertKinds(t *testing.T, pieces []aligner.Piece, want ...aligner.PieceKind) {
	t.Helper()
	got := kinds(pieces)
	if len(got) != len(want) {
		t.Fatalf("piece kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("piece kinds = %v, want %v", got, want)
		}
	}
}

func assertClose(t *testing.T, label string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("%s = %.6f, want %.6f", label, got, want)
	}
}

func pieceSum(pieces []aligner.Piece) float64 {
	total := 0.0
	for _, p := range pieces {
		total += p.Duration
	}
	return total
}

func TestAlignThreeSegmentsWithGaps(t *testing.T) {
	synth := newFakeSynth(t, map[string]float64{"uno": 2.5, "dos": 2.5, "tres": 2.0})
	stretch := &resampleStretcher{}
	a := newAligner(t, synth, stretch, 1)

	track, err := a.Align(context.Background(), aligner.Request{
		JobID: "job-1",
		Segments: []segments.Segment{
			{Start: 0, End: 2.5, TranslatedText: "uno"},
			{Start: 3.0, End: 5.5, TranslatedText: "dos"},
			{Start: 6.0, End: 8.0, TranslatedText: "tres"},
		},
		TargetLanguage:   "es",
		SpeakerReference: "/tmp/ref.wav",
		WorkDir:          t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}

	assertKinds(t, track.Pieces, aligner.PieceSpeech, aligner.PieceSilence, aligner.PieceSpeech, aligner.PieceSilence, aligner.PieceSpeech)
	assertClose(t, "gap 1", track.Pieces[1].Duration, 0.5)
	assertClose(t, "gap 2", track.Pieces[3].Duration, 0.5)
	assertClose(t, "total", track.Duration, 8.0)
	if calls := stretch.calls(); len(calls) != 0 {
		t.Fatalf("clips already on target must not be stretched, got %v", calls)
	}

	info, err := audio.ReadInfo(track.Path)
	if err != nil {
		t.Fatalf("read track: %v", err)
	}
	if info.Frames != 8*rate || info.Format != audio.Mono16(rate) {
		t.Fatalf("unexpected track info %+v", info)
	}
}

func TestAlignLeadingSilence(t *testing.T) {
	synth := newFakeSynth(t, map[string]float64{"hola": 2.0})
	a := newAligner(t, synth, &resampleStretcher{}, 1)

	track, err := a.Align(context.Background(), aligner.Request{
		Segments: []segments.Segment{{Start: 1.2, End: 3.2, TranslatedText: "hola"}},
		WorkDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	assertKinds(t, track.Pieces, aligner.PieceSilence, aligner.PieceSpeech)

	lead, err := audio.ReadInfo(track.Pieces[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if lead.Frames != 28800 {
		t.Fatalf("leading silence frames = %d, want 28800", lead.Frames)
	}
	assertClose(t, "total", track.Duration, 3.2)
}

func TestAlignShortTranslationLeavesTimingDebt(t *testing.T) {
	source := []segments.Segment{
		{Start: 0, End: 2.5, OriginalText: "hello"},
		{Start: 3.0, End: 5.5, OriginalText: "how are you"},
		{Start: 6.0, End: 8.0, OriginalText: "goodbye"},
	}
	translated, result := segments.ApplyTranslations(source, []string{"hola", "qué tal"})
	if result.Padded != 1 {
		t.Fatalf("expected one padded segment, got %+v", result)
	}

	synth := newFakeSynth(t, map[string]float64{"hola": 2.5, "qué tal": 2.5})
	a := newAligner(t, synth, &resampleStretcher{}, 1)
	track, err := a.Align(context.Background(), aligner.Request{Segments: translated, WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	assertKinds(t, track.Pieces, aligner.PieceSpeech, aligner.PieceSilence, aligner.PieceSpeech)
	for _, p := range track.Pieces {
		if p.Segment == 2 {
			t.Fatalf("padded segment produced audio: %+v", p)
		}
	}
	assertClose(t, "total", track.Duration, 5.5)
}

func TestAlignEmptyMiddleSegmentCarriesGap(t *testing.T) {
	synth := newFakeSynth(t, map[string]float64{"uno": 2.0, "tres": 1.0})
	a := newAligner(t, synth, &resampleStretcher{}, 1)

	track, err := a.Align(context.Background(), aligner.Request{
		Segments: []segments.Segment{
			{Start: 0, End: 2.0, TranslatedText: "uno"},
			{Start: 2.5, End: 4.0, TranslatedText: "  "},
			{Start: 5.0, End: 6.0, TranslatedText: "tres"},
		},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	assertKinds(t, track.Pieces, aligner.PieceSpeech, aligner.PieceSilence, aligner.PieceSpeech)
	// the silence spans from the end of segment 0, not segment 1
	assertClose(t, "gap", track.Pieces[1].Duration, 3.0)
	assertClose(t, "total", track.Duration, 6.0)
}

func TestAlignAllEmptyFails(t *testing.T) {
	synth := newFakeSynth(t, nil)
	a := newAligner(t, synth, &resampleStretcher{}, 2)

	_, err := a.Align(context.Background(), aligner.Request{
		Segments: []segments.Segment{{Start: 0, End: 1, TranslatedText: ""}, {Start: 2, End: 3}},
		WorkDir:  t.TempDir(),
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(synth.requests) != 0 {
		t.Fatalf("empty segments must not be synthesized, got %d requests", len(synth.requests))
	}
}

func TestTempoIsDampedAndClamped(t *testing.T) {
	opts := aligner.DefaultOptions()
	tests := []struct {
		raw, target, want float64
	}{
		{2.0, 2.0, 1.0},
		{2.2, 2.0, 1.06},
		{1.8, 2.0, 0.94},
		{4.0, 2.0, 1.5},
		{1.0, 2.0, 0.8},
		{20.0, 1.0, 1.5},
	}
	for _, tt := range tests {
		got := opts.Tempo(tt.raw, tt.target)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("Tempo(%v, %v) = %v, want %v", tt.raw, tt.target, got, tt.want)
		}
		if got < opts.MinTempo || got > opts.MaxTempo {
			t.Fatalf("Tempo(%v, %v) = %v outside bounds", tt.raw, tt.target, got)
		}
	}
}

func TestAlignStretchesLongClip(t *testing.T) {
	synth := newFakeSynth(t, map[string]float64{"largo": 4.0, "corto": 0.5})
	stretch := &resampleStretcher{}
	a := newAligner(t, synth, stretch, 1)

	track, err := a.Align(context.Background(), aligner.Request{
		Segments: []segments.Segment{
			{Start: 0, End: 2.0, TranslatedText: "largo"},
			// too short to measure: raw duration is kept
			{Start: 2.0, End: 2.04, TranslatedText: "corto"},
		},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	calls := stretch.calls()
	if len(calls) != 1 || calls[0] != 1.5 {
		t.Fatalf("stretch calls = %v, want [1.5]", calls)
	}
	assertKinds(t, track.Pieces, aligner.PieceSpeech, aligner.PieceSpeech)
	assertClose(t, "stretched", track.Pieces[0].Duration, 64000.0/rate)
	assertClose(t, "short", track.Pieces[1].Duration, 0.5)
	if track.Pieces[0].Tempo != 1.5 || track.Pieces[1].Tempo != 1 {
		t.Fatalf("unexpected tempos: %+v", track.Pieces)
	}
	assertClose(t, "sum", track.Duration, pieceSum(track.Pieces))
}

func TestAlignPrefersConditioning(t *testing.T) {
	synth := newFakeSynth(t, map[string]float64{"hola": 1.0})
	a := newAligner(t, synth, &resampleStretcher{}, 1)

	_, err := a.Align(context.Background(), aligner.Request{
		Segments:            []segments.Segment{{Start: 0, End: 1, TranslatedText: "hola"}},
		TargetLanguage:      "es",
		SpeakerReference:    "/tmp/ref.wav",
		SpeakerConditioning: "presets/narrator.pth",
		WorkDir:             t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	req := synth.requests[0]
	if req.SpeakerConditioning != "presets/narrator.pth" || req.SpeakerReference != "" || req.Language != "es" {
		t.Fatalf("unexpected synthesis request %+v", req)
	}
}

func TestAlignIsRepeatableAcrossWorkers(t *testing.T) {
	durations := map[string]float64{"a": 1.1, "b": 0.9, "c": 2.4, "d": 0.7, "e": 1.3}
	input := []segments.Segment{
		{Start: 0.3, End: 1.3, TranslatedText: "a"},
		{Start: 1.5, End: 2.5, TranslatedText: "b"},
		{Start: 2.6, End: 4.6, TranslatedText: "c"},
		{Start: 5.0, End: 5.2, TranslatedText: ""},
		{Start: 5.4, End: 6.4, TranslatedText: "d"},
		{Start: 7.0, End: 8.0, TranslatedText: "e"},
	}
	workDir := t.TempDir()

	var tracks []aligner.Track
	for _, workers := range []int{1, 3, 1} {
		a := newAligner(t, newFakeSynth(t, durations), &resampleStretcher{}, workers)
		track, err := a.Align(context.Background(), aligner.Request{Segments: input, WorkDir: workDir})
		if err != nil {
			t.Fatalf("Align (workers=%d) failed: %v", workers, err)
		}
		assertClose(t, "sum", track.Duration, pieceSum(track.Pieces))
		tracks = append(tracks, track)
	}
	for _, track := range tracks[1:] {
		assertClose(t, "repeat duration", track.Duration, tracks[0].Duration)
		if len(track.Pieces) != len(tracks[0].Pieces) {
			t.Fatalf("piece count changed: %d vs %d", len(track.Pieces), len(tracks[0].Pieces))
		}
		for i := range track.Pieces {
			if track.Pieces[i].Segment != tracks[0].Pieces[i].Segment || track.Pieces[i].Kind != tracks[0].Pieces[i].Kind {
				t.Fatalf("piece %d differs: %+v vs %+v", i, track.Pieces[i], tracks[0].Pieces[i])
			}
		}
	}
}

func TestAlignPropagatesSynthesisFailure(t *testing.T) {
	synth := newFakeSynth(t, map[string]float64{"ok": 1.0})
	a := newAligner(t, synth, &resampleStretcher{}, 2)

	_, err := a.Align(context.Background(), aligner.Request{
		Segments: []segments.Segment{
			{Start: 0, End: 1, TranslatedText: "ok"},
			{Start: 1, End: 2, TranslatedText: "boom"},
		},
		WorkDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected synthesis failure to propagate")
	}
}

func TestNewRequiresBackends(t *testing.T) {
	if _, err := aligner.New(aligner.DefaultOptions(), aligner.Dependencies{}, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
