// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed streams and container format
//   - Prober: Inspect and Duration bound to a configured binary
//
// The pipeline uses Prober.Inspect to reject sources without an audio stream
// before any extraction work starts.
package ffprobe
