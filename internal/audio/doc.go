// Package audio holds the PCM primitives the aligner builds on: a fixed
// output format, exact silence generation, WAV duration probing, bounded
// tempo-chain planning, and in-order concatenation.
//
// Everything here reads and writes 16-bit PCM WAV through go-audio. Anything
// that needs a codec (decoding MP3 from a TTS backend, pitch-preserving time
// stretch) lives in internal/media/ffmpeg and plugs in through the
// StepStretcher interface.
package audio
