package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/retry"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CompensationJob is the durable form of a retry.Job.
type CompensationJob struct {
	ID              string                `gorm:"type:varchar(36);primaryKey" json:"id"`
	Action          string                `gorm:"type:varchar(64);not null" json:"action"`
	Resource        string                `gorm:"type:varchar(128);not null;index" json:"resource"`
	Payload         datatypes.JSON        `json:"payload"`
	ReattachKind    string                `gorm:"type:varchar(16)" json:"reattach_kind,omitempty"`
	ReattachLocalID string                `gorm:"type:varchar(36)" json:"reattach_local_id,omitempty"`
	Attempts        int                   `gorm:"not null;default:0" json:"attempts"`
	State           gatewaysync.Lifecycle `gorm:"type:varchar(32);not null;index" json:"state"`
	LastError       string                `gorm:"type:text" json:"last_error,omitempty"`
	NextAttemptAt   *time.Time            `json:"next_attempt_at,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func (CompensationJob) TableName() string {
	return "compensation_jobs"
}

func jobRow(job retry.Job) CompensationJob {
	row := CompensationJob{
		ID:        job.ID,
		Action:    string(job.Compensation.Action),
		Resource:  job.Compensation.Resource.String(),
		Payload:   datatypes.JSON(job.Compensation.Payload),
		Attempts:  job.Attempts,
		State:     job.State,
		LastError: job.LastError,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if r := job.Compensation.Reattach; r != nil {
		row.ReattachKind = string(r.Kind)
		row.ReattachLocalID = r.LocalID
	}
	if !job.NextAttemptAt.IsZero() {
		next := job.NextAttemptAt
		row.NextAttemptAt = &next
	}
	return row
}

func (row CompensationJob) job() retry.Job {
	job := retry.Job{
		ID: row.ID,
		Compensation: gatewaysync.Compensation{
			Action:   gatewaysync.ActionName(row.Action),
			Resource: gatewaysync.ResourceKey(row.Resource),
			Payload:  json.RawMessage(row.Payload),
		},
		Attempts:  row.Attempts,
		State:     row.State,
		LastError: row.LastError,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.ReattachLocalID != "" {
		job.Compensation.Reattach = &gatewaysync.Reattach{
			Kind:    gatewaysync.ResourceKind(row.ReattachKind),
			LocalID: row.ReattachLocalID,
		}
	}
	if row.NextAttemptAt != nil {
		job.NextAttemptAt = *row.NextAttemptAt
	}
	return job
}

// JobStore keeps compensation jobs in the compensation_jobs table.
type JobStore struct {
	db *gorm.DB
}

var _ retry.JobStore = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// Put inserts the job or overwrites the stored copy.
func (s *JobStore) Put(ctx context.Context, job retry.Job) error {
	row := jobRow(job)

	err := s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).
		Error

	if err != nil {
		return fmt.Errorf("failed to store compensation job %s: %w", job.ID, err)
	}

	return nil
}

// Pending returns every job still in progress, oldest first.
func (s *JobStore) Pending(ctx context.Context) ([]retry.Job, error) {
	return s.find(ctx, "state NOT IN ?", []gatewaysync.Lifecycle{
		gatewaysync.LifecycleCompensated,
		gatewaysync.LifecycleCompensationExhausted,
	})
}

// List returns jobs in the given state, or all jobs when state is empty.
func (s *JobStore) List(ctx context.Context, state gatewaysync.Lifecycle) ([]retry.Job, error) {
	if state == "" {
		return s.find(ctx, "1 = 1")
	}
	return s.find(ctx, "state = ?", state)
}

func (s *JobStore) find(ctx context.Context, query string, args ...any) ([]retry.Job, error) {
	var rows []CompensationJob

	err := s.db.
		WithContext(ctx).
		Where(query, args...).
		Order("created_at, id").
		Find(&rows).
		Error

	if err != nil {
		return nil, fmt.Errorf("failed to list compensation jobs: %w", err)
	}

	jobs := make([]retry.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.job())
	}

	return jobs, nil
}
