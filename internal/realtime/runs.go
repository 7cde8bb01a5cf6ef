package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Runs tracks the cancel funcs of in-flight turns per thread so a stop request
// can reach them. A thread may have more than one run (for example a client retry).
type Runs struct {
	mu   sync.Mutex
	next uint64
	runs map[uuid.UUID]map[uint64]context.CancelFunc
}

func NewRuns() *Runs {
	return &Runs{runs: map[uuid.UUID]map[uint64]context.CancelFunc{}}
}

// Register records cancel under threadID. The returned release must be called when
// the run ends; it is safe to call more than once.
func (r *Runs) Register(threadID uuid.UUID, cancel context.CancelFunc) (release func()) {
	r.mu.Lock()
	id := r.next
	r.next++
	if r.runs[threadID] == nil {
		r.runs[threadID] = map[uint64]context.CancelFunc{}
	}
	r.runs[threadID][id] = cancel
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.runs[threadID], id)
			if len(r.runs[threadID]) == 0 {
				delete(r.runs, threadID)
			}
		})
	}
}

// Cancel cancels every run of threadID and returns how many were cancelled.
func (r *Runs) Cancel(threadID uuid.UUID) int {
	r.mu.Lock()
	fns := r.runs[threadID]
	delete(r.runs, threadID)
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func (r *Runs) Active(threadID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs[threadID]) > 0
}
