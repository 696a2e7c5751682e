package gatewaysync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store persists plan execution records.
type Store interface {
	// Save persists the current record of an execution
	Save(ctx context.Context, record PlanRecord) error

	// Load retrieves a record by execution id
	Load(ctx context.Context, planID string) (*PlanRecord, error)

	// Delete removes a record
	Delete(ctx context.Context, planID string) error
}

// PlanRecord is the persisted view of one plan execution.
type PlanRecord struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Kind      string       `json:"kind"`
	Status    string       `json:"status"`
	Steps     []StepRecord `json:"steps"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// StepRecord is the persisted view of one step.
type StepRecord struct {
	Name      string          `json:"name"`
	Lifecycle Lifecycle       `json:"lifecycle"`
	Resource  ResourceKey     `json:"resource,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// Plan status constants
const (
	PlanStatusRunning      = "running"
	PlanStatusCommitted    = "committed"
	PlanStatusRejected     = "rejected"
	PlanStatusCompensating = "compensating"
	PlanStatusFailed       = "failed"
	PlanStatusAborted      = "aborted"
)

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	records map[string]*PlanRecord
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*PlanRecord),
	}
}

// Save stores the record in memory.
func (m *MemoryStore) Save(ctx context.Context, record PlanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.Steps = append([]StepRecord(nil), record.Steps...)
	record.UpdatedAt = time.Now()
	m.records[record.ID] = &record
	return nil
}

// Load retrieves a record from memory.
func (m *MemoryStore) Load(ctx context.Context, planID string) (*PlanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[planID]
	if !exists {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}

	recordCopy := *record
	recordCopy.Steps = append([]StepRecord(nil), record.Steps...)
	return &recordCopy, nil
}

// Delete removes a record from memory.
func (m *MemoryStore) Delete(ctx context.Context, planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, planID)
	return nil
}
