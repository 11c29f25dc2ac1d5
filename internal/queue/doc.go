// Package queue persists pipeline jobs in SQLite and owns the job state
// machine. All state transitions flow through the Store so the workflow
// coordinator remains the single writer of job state.
package queue
