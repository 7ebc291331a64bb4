// Package main hosts the redub CLI entrypoint and command graph.
//
// The Cobra command tree covers three kinds of work: running the daemon in the
// foreground, dubbing a single source inline, and maintaining the job store
// (submitting, inspecting, retrying jobs and managing voice presets). Config
// resolution and logger setup live in the shared command context so each
// subcommand only deals with its own flags and output.
package main
