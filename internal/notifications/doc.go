// Package notifications delivers job progress and completion events to
// external status sinks.
//
// Two transports exist: a JSON webhook pair (step_url / complete_url) that the
// hosting application consumes, and optional ntfy push notifications. Both sit
// behind the Notifier interface and are fanned out by a Dispatcher whose
// bounded queue keeps pipeline code from ever blocking on a slow receiver.
package notifications
