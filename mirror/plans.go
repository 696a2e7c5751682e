package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fortressi/gatewaysync"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlanExecution is the durable form of a gatewaysync.PlanRecord.
type PlanExecution struct {
	ID        string                                      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string                                      `gorm:"type:varchar(64);not null;index" json:"name"`
	Kind      string                                      `gorm:"type:varchar(16);not null" json:"kind"`
	Status    string                                      `gorm:"type:varchar(16);not null;index" json:"status"`
	Steps     datatypes.JSONSlice[gatewaysync.StepRecord] `json:"steps"`
	Error     string                                      `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time                                   `json:"created_at"`
	UpdatedAt time.Time                                   `json:"updated_at"`
}

func (PlanExecution) TableName() string {
	return "plan_executions"
}

// PlanStore keeps plan records in the plan_executions table.
type PlanStore struct {
	db *gorm.DB
}

var _ gatewaysync.Store = (*PlanStore)(nil)

func NewPlanStore(db *gorm.DB) *PlanStore {
	return &PlanStore{db: db}
}

// Save inserts the record or overwrites the stored copy.
func (s *PlanStore) Save(ctx context.Context, record gatewaysync.PlanRecord) error {
	row := PlanExecution{
		ID:        record.ID,
		Name:      record.Name,
		Kind:      record.Kind,
		Status:    record.Status,
		Steps:     datatypes.JSONSlice[gatewaysync.StepRecord](record.Steps),
		Error:     record.Error,
		CreatedAt: record.CreatedAt,
		UpdatedAt: time.Now(),
	}

	err := s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).
		Error

	if err != nil {
		return fmt.Errorf("failed to store plan %s: %w", record.ID, err)
	}

	return nil
}

// Load returns the record of a plan execution.
func (s *PlanStore) Load(ctx context.Context, planID string) (*gatewaysync.PlanRecord, error) {
	var row PlanExecution

	err := s.db.
		WithContext(ctx).
		Where("id = ?", planID).
		First(&row).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("plan %s: %w", planID, gatewaysync.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load plan %s: %w", planID, err)
	}

	return &gatewaysync.PlanRecord{
		ID:        row.ID,
		Name:      row.Name,
		Kind:      row.Kind,
		Status:    row.Status,
		Steps:     []gatewaysync.StepRecord(row.Steps),
		Error:     row.Error,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// Delete removes a plan record.
func (s *PlanStore) Delete(ctx context.Context, planID string) error {
	err := s.db.
		WithContext(ctx).
		Where("id = ?", planID).
		Delete(&PlanExecution{}).
		Error

	if err != nil {
		return fmt.Errorf("failed to delete plan %s: %w", planID, err)
	}

	return nil
}
