package jobs

import (
	"fmt"
	"sort"
	"sync"

	"pkt.systems/doctrans/internal/clock"
)

// Registry is a concurrency-safe job table. Reads hand out snapshot
// copies; writes go through guarded transitions so readers never see a
// half-updated record and terminal states stay terminal.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	clk  clock.Clock
}

// NewRegistry returns an empty Registry using clk for UpdatedAt stamps.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Registry{jobs: make(map[string]*Job), clk: clk}
}

// Create registers a new job. The id must be unique.
func (r *Registry) Create(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("jobs: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return ErrDuplicate
	}
	now := r.clk.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusPending
	}
	stored := job
	r.jobs[job.ID] = &stored
	return nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns up to limit job snapshots, newest first. limit <= 0
// returns everything.
func (r *Registry) List(limit int) []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Remove drops the job record entirely. It exists so a submission that
// fails after registration can be backed out; it reports whether a
// record was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	return true
}

// Update mutates a non-terminal job in place without changing status.
// Used for progress counts and the external operation id.
func (r *Registry) Update(id string, mutate func(*Job)) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if job.Status.Terminal() {
		return *job, ErrTerminal
	}
	mutate(job)
	job.UpdatedAt = r.clk.Now().UTC()
	return *job, nil
}

// Transition moves the job to a new status under the state machine,
// applying mutate (may be nil) in the same critical section. Returns
// the post-transition snapshot.
func (r *Registry) Transition(id string, to Status, mutate func(*Job)) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if job.Status.Terminal() {
		return *job, ErrTerminal
	}
	if !job.Status.canTransitionTo(to) {
		return *job, fmt.Errorf("%w: %s -> %s", ErrBadTransition, job.Status, to)
	}
	if mutate != nil {
		mutate(job)
	}
	job.Status = to
	job.UpdatedAt = r.clk.Now().UTC()
	return *job, nil
}
