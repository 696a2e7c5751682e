package gatewaysync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/btree"
)

// StepName is the unique name of a step within a plan.
type StepName string

// MirrorOp is a mirror mutation buffered by a step. It runs inside the plan's
// single commit transaction, after every remote call succeeded.
type MirrorOp[TX any] func(ctx context.Context, tx TX) error

// StepResult is what a successful forward call produced.
type StepResult[TX any] struct {
	// Output is made available to later steps and their compensations.
	Output any
	// Resource is the key of the remote object this step touched.
	Resource ResourceKey
	// Mirror is applied at commit time. Nil when the step has no mirror effect.
	Mirror MirrorOp[TX]
}

// Step is one remote call in a plan, together with its undo.
type Step[TX any] interface {
	Name() StepName
	Label() string
	Do(ctx context.Context, sc *StepContext) (StepResult[TX], error)
	// Undo builds the compensation for a completed Do. A nil compensation
	// means there is nothing to undo.
	Undo(sc *StepContext) (*Compensation, error)
}

// StepContext gives a step access to the outputs of the steps before it.
type StepContext struct {
	Outputs *btree.Map[StepName, any]
	Index   int
	Plan    PlanName
}

// Lookup retrieves the output of an earlier step by name.
func (sc *StepContext) Lookup(name StepName) (any, bool) {
	if sc.Outputs == nil {
		return nil, false
	}
	return sc.Outputs.Get(name)
}

// LookupTyped retrieves the output of an earlier step with a type assertion.
// Outputs restored from a plan record are json.RawMessage and get unmarshaled.
func LookupTyped[R any](sc *StepContext, name StepName) (R, bool) {
	var zero R
	value, found := sc.Lookup(name)
	if !found {
		return zero, false
	}

	if typed, ok := value.(R); ok {
		return typed, true
	}

	if raw, ok := value.(json.RawMessage); ok {
		var result R
		if err := json.Unmarshal(raw, &result); err == nil {
			return result, true
		}
	}

	return zero, false
}

type DoFunc[TX any] func(ctx context.Context, sc *StepContext) (StepResult[TX], error)
type UndoFunc func(sc *StepContext) (*Compensation, error)

// StepFunc is a Step built from ordinary functions.
type StepFunc[TX any] struct {
	name  StepName
	label string
	do    DoFunc[TX]
	undo  UndoFunc
}

// NewStep constructs a StepFunc. The label is the human readable name used in
// errors returned to callers, e.g. "route creation".
func NewStep[TX any](name StepName, label string, do DoFunc[TX], undo UndoFunc) *StepFunc[TX] {
	if undo == nil {
		undo = NoUndo
	}
	return &StepFunc[TX]{name: name, label: label, do: do, undo: undo}
}

// NoUndo is the undo of a step whose remote effect needs no compensation.
func NoUndo(_ *StepContext) (*Compensation, error) {
	return nil, nil
}

// Name implements Step.
func (s *StepFunc[TX]) Name() StepName {
	return s.name
}

// Label implements Step.
func (s *StepFunc[TX]) Label() string {
	if s.label == "" {
		return string(s.name)
	}
	return s.label
}

// Do implements Step. The output must be serializable so it can be persisted
// with the plan record.
func (s *StepFunc[TX]) Do(ctx context.Context, sc *StepContext) (StepResult[TX], error) {
	result, err := s.do(ctx, sc)
	if err != nil {
		return StepResult[TX]{}, err
	}
	if _, err := json.Marshal(result.Output); err != nil {
		return StepResult[TX]{}, SerializeFailed(err)
	}
	return result, nil
}

// Undo implements Step.
func (s *StepFunc[TX]) Undo(sc *StepContext) (*Compensation, error) {
	return s.undo(sc)
}

func (s *StepFunc[TX]) String() string {
	return fmt.Sprintf("StepFunc[%s]", s.name)
}
