// Package jobs persists dubbing jobs and voice presets in SQLite.
//
// The Store owns the connection, schema initialization, busy-retry handling
// and every status transition a job goes through: created PENDING, claimed
// PROCESSING, step advances, then one terminal COMPLETED or FAILED write. The
// schema itself enforces that output_key is set only on COMPLETED rows and
// error only on FAILED rows.
//
// Schema changes bump the version in schema.go; operators delete the database
// to adopt a new schema.
package jobs
