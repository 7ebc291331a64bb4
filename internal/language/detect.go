package language

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// minDetectRunes is the shortest text worth running detection on.
const minDetectRunes = 24

// Result is the outcome of checking text against an expected language.
type Result struct {
	Expected string
	Detected string
	// Reliable is false when the text was too short or detection gave no answer.
	Reliable bool
	Match    bool
}

// Detector identifies the language of translated text. The lingua model
// is built on first use and shared.
type Detector struct {
	once     sync.Once
	detector lingua.LanguageDetector
}

// NewDetector returns a lazily initialised detector.
func NewDetector() *Detector {
	return &Detector{}
}

func (d *Detector) build() {
	d.once.Do(func() {
		d.detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithLowAccuracyMode().
			Build()
	})
}

// Detect returns the ISO 639-1 code of text, or false if undetermined.
func (d *Detector) Detect(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minDetectRunes {
		return "", false
	}
	d.build()
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// Check compares the detected language of text with expected. Unreliable
// results count as a match.
func (d *Detector) Check(text, expected string) Result {
	want, err := Normalize(expected)
	if err != nil {
		want = strings.ToLower(strings.TrimSpace(expected))
	}
	result := Result{Expected: want, Match: true}
	detected, ok := d.Detect(text)
	if !ok {
		return result
	}
	result.Detected = detected
	result.Reliable = true
	result.Match = detected == want
	return result
}
