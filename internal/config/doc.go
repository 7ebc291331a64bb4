// Package config loads, normalizes, and validates redub configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY and GROQ_API_KEY. The Config type centralizes every knob the
// daemon, CLI and pipeline need, including the aligner's damping and tempo
// bounds.
package config
