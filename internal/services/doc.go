// Package services provides the shared error taxonomy and context helpers
// used by the pipeline stages and the workflow coordinator.
package services
