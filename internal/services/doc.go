// Package services defines shared utilities consumed by pipeline stages and
// the remote backends they call.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures carry the
//     stage and operation that produced them.
//
// Backend clients live in subpackages (openai, xtts).
package services
