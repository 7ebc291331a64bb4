// Package preflight provides readiness checks for the binaries, directories
// and remote backends redub depends on.
//
// These checks run in two contexts:
//   - The daemon command runs RunAll before starting and refuses to start
//     when a required check fails.
//   - The CLI "redub status" command renders the same results, and probes
//     remote endpoints only when asked to.
//
// Backend checks are gated by config: a mux-only lip-sync setup never probes a
// lip-sync endpoint.
package preflight
