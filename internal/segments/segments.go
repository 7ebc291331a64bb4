// Package segments holds the timed utterance units passed from transcription
// through translation to the aligner.
package segments

import "strings"

// Word is one transcribed word with source-timeline timing.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one utterance. Start and End are seconds on the source timeline.
type Segment struct {
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	OriginalText   string  `json:"original_text"`
	TranslatedText string  `json:"translated_text,omitempty"`
	Words          []Word  `json:"words,omitempty"`
}

// Duration is End-Start.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Silent reports whether the segment produces no speech.
func (s Segment) Silent() bool {
	return strings.TrimSpace(s.TranslatedText) == ""
}

// OriginalTexts returns the source text of each segment in order.
func OriginalTexts(list []Segment) []string {
	out := make([]string, len(list))
	for i, seg := range list {
		out[i] = seg.OriginalText
	}
	return out
}

// ApplyResult reports how translations lined up with segments.
type ApplyResult struct {
	Padded    int
	Truncated int
}

// ApplyTranslations returns a copy of list with TranslatedText filled from
// translations by position. Missing entries become empty text, extra entries
// are dropped.
func ApplyTranslations(list []Segment, translations []string) ([]Segment, ApplyResult) {
	out := make([]Segment, len(list))
	copy(out, list)
	var result ApplyResult
	for i := range out {
		if i < len(translations) {
			out[i].TranslatedText = strings.TrimSpace(translations[i])
			continue
		}
		out[i].TranslatedText = ""
		result.Padded++
	}
	if len(translations) > len(list) {
		result.Truncated = len(translations) - len(list)
	}
	return out, result
}

// JoinTranslated concatenates non-empty translated text with spaces.
func JoinTranslated(list []Segment) string {
	parts := make([]string, 0, len(list))
	for _, seg := range list {
		if !seg.Silent() {
			parts = append(parts, strings.TrimSpace(seg.TranslatedText))
		}
	}
	return strings.Join(parts, " ")
}
