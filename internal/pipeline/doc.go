// Package pipeline sequences one dubbing job through its stages: prepare,
// transcribe, translate, synthesize, lipsync and publish.
//
// Each stage reports its numbered step to the JobStore and the notifier before
// it starts, runs under its own timeout, and any failure ends the run with a
// single FAILED transition and a single terminal notification. The working
// area is released on every path.
package pipeline
