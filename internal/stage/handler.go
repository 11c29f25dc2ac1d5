// Package stage defines the contract between the workflow manager and the
// pipeline stage handlers.
package stage

import (
	"context"

	"mediamill/internal/queue"
)

// Handler describes the contract the workflow manager needs from each stage.
// Prepare runs quick setup under the claim, Execute does the long-running
// work, and HealthCheck reports whether the stage can run at all.
type Handler interface {
	Prepare(context.Context, *queue.Job) error
	Execute(context.Context, *queue.Job) error
	HealthCheck(context.Context) Health
}
