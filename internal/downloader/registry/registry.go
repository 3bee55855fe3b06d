package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/hls-downloader/internal/downloader/domain"
)

// Registry is the concurrency-safe mapping from job id to job record. It is
// the only structure in the service mutated by multiple goroutines; all
// access goes through its atomic operations and the lock is never held
// across anything slower than a map write.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		jobs: make(map[string]*domain.Job),
	}
}

// Create inserts a new job record. Returns domain.ErrDuplicateID if the id
// is already present.
func (r *Registry) Create(job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return domain.ErrDuplicateID
	}
	r.jobs[job.ID] = job
	return nil
}

// Get returns a point-in-time snapshot of the record, or domain.ErrNotFound.
func (r *Registry) Get(jobID string) (domain.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[jobID]
	if !exists {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return job.Snapshot(), nil
}

// Update applies fn to the record under the write lock, so no concurrent Get
// ever observes a partially-applied mutation. The post-mutation snapshot is
// returned. Fails with domain.ErrNotFound for unknown ids.
func (r *Registry) Update(jobID string, fn func(*domain.Job)) (domain.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[jobID]
	if !exists {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	fn(job)
	return job.Snapshot(), nil
}

// Done returns the channel closed when the job reaches a terminal state.
func (r *Registry) Done(jobID string) (<-chan struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[jobID]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return job.Done(), nil
}

// Remove deletes the entry. Idempotent on missing ids.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}

// List returns snapshots of every known job, newest first.
func (r *Registry) List() []domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Snapshot, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Reap evicts terminal records whose terminal transition is older than the
// retention window and returns how many were removed. Non-terminal jobs are
// never touched.
func (r *Registry) Reap(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, job := range r.jobs {
		snap := job.Snapshot()
		if !snap.Status.Terminal() || snap.FinishedAt == nil {
			continue
		}
		if snap.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}
