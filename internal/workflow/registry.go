package workflow

import (
	"context"
	"sync"
)

// cancelRegistry tracks the cancel function of every in-flight job so a
// cancellation request can interrupt the owning worker.
type cancelRegistry struct {
	mu    sync.Mutex
	funcs map[int64]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{funcs: make(map[int64]context.CancelFunc)}
}

func (r *cancelRegistry) add(jobID int64, cancel context.CancelFunc) {
	r.mu.Lock()
	r.funcs[jobID] = cancel
	r.mu.Unlock()
}

func (r *cancelRegistry) remove(jobID int64) {
	r.mu.Lock()
	delete(r.funcs, jobID)
	r.mu.Unlock()
}

// cancel fires the job's cancel function when it is in flight. Returns
// whether a function was found.
func (r *cancelRegistry) cancel(jobID int64) bool {
	r.mu.Lock()
	cancel, ok := r.funcs[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
