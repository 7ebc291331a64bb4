// Package daemon hosts the long-running redub process: a single-instance lock,
// a poller that claims PENDING jobs and runs them through the pipeline with
// bounded concurrency, and the HTTP API used to submit dubs, inspect jobs and
// receive status callbacks from remote workers.
package daemon
