package manager

import (
	"sync"
	"time"

	"imaged/internal/protocol"
	"imaged/internal/queue"
	"imaged/pkg/types"
)

// workerEntry is the registry entry of one live worker process.
type workerEntry struct {
	generatorID   int64
	generatorName string
	gpuID         int
	instanceID    string
	proc          Process
	cmds          *queue.Unbounded[protocol.Command]
	startedAt     time.Time

	// guarded by Registry.mu
	state       types.GeneratorStatus
	jobID       int64
	lastEventAt time.Time
	eventsSeen  int
}

// workerView is a copy of a registry entry safe to use outside the lock.
type workerView struct {
	GeneratorID   int64
	GeneratorName string
	GPUID         int
	InstanceID    string
	Proc          Process
	Cmds          *queue.Unbounded[protocol.Command]
	StartedAt     time.Time
	State         types.GeneratorStatus
	JobID         int64
	LastEventAt   time.Time
	EventsSeen    int
}

func (w *workerEntry) view() workerView {
	return workerView{
		GeneratorID: w.generatorID, GeneratorName: w.generatorName, GPUID: w.gpuID,
		InstanceID: w.instanceID, Proc: w.proc, Cmds: w.cmds, StartedAt: w.startedAt,
		State: w.state, JobID: w.jobID, LastEventAt: w.lastEventAt, EventsSeen: w.eventsSeen,
	}
}

// Registry maps generator ids to live worker processes. Every method holds
// the lock only for the map/entry access itself; no I/O happens under it.
type Registry struct {
	mu      sync.Mutex
	workers map[int64]*workerEntry
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[int64]*workerEntry)}
}

// register adds w. It reports false if the generator already has an entry.
func (r *Registry) register(w *workerEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[w.generatorID]; ok {
		return false
	}
	r.workers[w.generatorID] = w
	return true
}

func (r *Registry) get(id int64) (workerView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return workerView{}, false
	}
	return w.view(), true
}

// Has reports whether the generator has a live worker.
func (r *Registry) Has(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[id]
	return ok
}

// State returns the registry state of a generator's worker.
func (r *Registry) State(id int64) (types.GeneratorStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return "", false
	}
	return w.state, true
}

// updateState sets the state unless the current state is one of keep. It
// reports whether the state changed and the state found.
func (r *Registry) updateState(id int64, instanceID string, state types.GeneratorStatus, keep ...types.GeneratorStatus) (bool, types.GeneratorStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok || (instanceID != "" && w.instanceID != instanceID) {
		return false, ""
	}
	for _, k := range keep {
		if w.state == k {
			return false, w.state
		}
	}
	prev := w.state
	w.state = state
	if state != types.GeneratorBusy {
		w.jobID = 0
	}
	return prev != state, prev
}

// claimReady atomically moves a ready worker to busy for jobID.
func (r *Registry) claimReady(id, jobID int64) (workerView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok || w.state != types.GeneratorReady {
		return workerView{}, false
	}
	w.state = types.GeneratorBusy
	w.jobID = jobID
	return w.view(), true
}

// unclaim returns a worker claimed for jobID to ready, unless an event moved
// it on in the meantime.
func (r *Registry) unclaim(id int64, instanceID string, jobID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok || w.instanceID != instanceID || w.state != types.GeneratorBusy || w.jobID != jobID {
		return false
	}
	w.state = types.GeneratorReady
	w.jobID = 0
	return true
}

// setJob records the job a worker reported as started.
func (r *Registry) setJob(id int64, instanceID string, jobID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok && w.instanceID == instanceID {
		w.jobID = jobID
	}
}

// hasJob reports whether a live worker was given jobID and has not yet
// finished it.
func (r *Registry) hasJob(jobID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.state == types.GeneratorBusy && w.jobID == jobID {
			return true
		}
	}
	return false
}

// touch records an event received from the worker.
func (r *Registry) touch(id int64, instanceID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok || w.instanceID != instanceID {
		return false
	}
	w.lastEventAt = at
	w.eventsSeen++
	return true
}

// remove deletes the entry if it belongs to instanceID (any instance when
// instanceID is empty).
func (r *Registry) remove(id int64, instanceID string) (workerView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok || (instanceID != "" && w.instanceID != instanceID) {
		return workerView{}, false
	}
	delete(r.workers, id)
	return w.view(), true
}

func (r *Registry) snapshot() []workerView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]workerView, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.view())
	}
	return out
}

// Len returns the number of live workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}
