package retry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fortressi/gatewaysync"
)

// Job is one scheduled compensation.
type Job struct {
	ID           string                   `json:"id"`
	Compensation gatewaysync.Compensation `json:"compensation"`
	// Attempts counts retries already made; the inline attempt is not included.
	Attempts      int                   `json:"attempts"`
	State         gatewaysync.Lifecycle `json:"state"`
	LastError     string                `json:"last_error,omitempty"`
	NextAttemptAt time.Time             `json:"next_attempt_at"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Done reports whether the job reached a terminal state.
func (j Job) Done() bool {
	return j.State == gatewaysync.LifecycleCompensated || j.State == gatewaysync.LifecycleCompensationExhausted
}

// JobStore persists jobs.
type JobStore interface {
	// Put inserts or replaces a job by id
	Put(ctx context.Context, job Job) error

	// Pending lists jobs that are not done, oldest first
	Pending(ctx context.Context) ([]Job, error)
}

// MemoryJobStore keeps jobs in memory. Pending jobs do not survive a restart.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]Job)}
}

func (m *MemoryJobStore) Put(ctx context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryJobStore) Pending(ctx context.Context) ([]Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Job
	for _, job := range m.jobs {
		if !job.Done() {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns a job by id.
func (m *MemoryJobStore) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	return job, ok
}

// All returns every job, oldest first.
func (m *MemoryJobStore) All() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
