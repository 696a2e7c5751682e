package gatewaysync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fortressi/gatewaysync/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/btree"
)

// Transactor runs fn inside a single mirror transaction.
type Transactor[TX any] interface {
	Transaction(ctx context.Context, fn func(tx TX) error) error
}

// UniquenessChecker answers whether a unique value is already taken.
type UniquenessChecker interface {
	Exists(ctx context.Context, key UniqueKey) (bool, error)
}

// Mirror is everything the orchestrator needs from the local mirror.
type Mirror[TX any] interface {
	Transactor[TX]
	UniquenessChecker
	LifecycleRecorder
}

// Scheduler accepts compensations that failed their inline attempt. Schedule
// must return promptly and never fail the caller.
//
// Acquire blocks until no other compensation for key is running and returns
// the function that releases the key. The inline attempt runs while holding
// it, so it never overlaps a retry of the same resource.
type Scheduler interface {
	Acquire(key ResourceKey) (release func())
	Schedule(ctx context.Context, comp Compensation)
}

// Reaper removes orphaned catalog rows after a commit. It handles its own
// failures.
type Reaper interface {
	Reap(ctx context.Context)
}

// Phase tells forward calls and compensations apart in the trace.
type Phase string

const (
	PhaseDo   Phase = "do"
	PhaseUndo Phase = "undo"
)

// ExecutionRecord tracks one forward call or inline compensation.
type ExecutionRecord struct {
	Step      StepName
	Phase     Phase
	Action    ActionName
	StartTime time.Time
	EndTime   time.Time
	Error     error
}

// Execution is the result of running one plan.
type Execution struct {
	ID   string
	Plan PlanName
	Log  *PlanLog

	outputs *btree.Map[StepName, any]
	trace   []ExecutionRecord
}

// Output returns the output of a completed step.
func (e *Execution) Output(name StepName) (any, bool) {
	return e.outputs.Get(name)
}

// OutputOf returns the typed output of a completed step.
func OutputOf[R any](e *Execution, name StepName) (R, bool) {
	return LookupTyped[R](&StepContext{Outputs: e.outputs}, name)
}

// Trace returns a copy of the execution trace.
func (e *Execution) Trace() []ExecutionRecord {
	trace := make([]ExecutionRecord, len(e.trace))
	copy(trace, e.trace)
	return trace
}

// Order returns the names of the steps whose forward call ran, in order.
func (e *Execution) Order() []string {
	order := make([]string, 0, len(e.trace))
	for _, rec := range e.trace {
		if rec.Phase == PhaseDo {
			order = append(order, string(rec.Step))
		}
	}
	return order
}

// Compensated returns the steps an inline compensation was attempted for, in
// the order they were attempted.
func (e *Execution) Compensated() []string {
	var out []string
	for _, rec := range e.trace {
		if rec.Phase == PhaseUndo {
			out = append(out, string(rec.Step))
		}
	}
	return out
}

type options struct {
	reaper Reaper
	store  Store
	logger zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*options)

// WithReaper runs r after every successful mirror commit.
func WithReaper(r Reaper) Option {
	return func(o *options) { o.reaper = r }
}

// WithStore persists a record of every execution.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Orchestrator executes plans against the gateway and the mirror.
type Orchestrator[TX any] struct {
	mirror    Mirror[TX]
	registry  *ActionRegistry
	scheduler Scheduler
	reaper    Reaper
	store     Store
	log       zerolog.Logger
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator[TX any](mirror Mirror[TX], registry *ActionRegistry, scheduler Scheduler, opts ...Option) *Orchestrator[TX] {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Orchestrator[TX]{
		mirror:    mirror,
		registry:  registry,
		scheduler: scheduler,
		reaper:    o.reaper,
		store:     o.store,
		log:       o.logger,
	}
}

// run is the mutable state of one Execute call.
type run[TX any] struct {
	exec      *Execution
	plan      *Plan[TX]
	order     []Step[TX]
	completed []Step[TX]
	resources map[StepName]ResourceKey
	mirrorOps []MirrorOp[TX]
	startedAt time.Time
	log       zerolog.Logger
}

func (r *run[TX]) stepContext(index int) *StepContext {
	return &StepContext{Outputs: r.exec.outputs, Index: index, Plan: r.plan.Name}
}

func (r *run[TX]) record(step StepName, event StepEventType, cause error) {
	if err := r.exec.Log.Record(step, event, cause); err != nil {
		r.log.Error().Err(err).Msg("plan log rejected event")
	}
}

// Execute runs the plan.
//
// The uniqueness pre-check runs before any remote call. Steps then run in
// order; mirror mutations are buffered and committed in one transaction after
// the last step. On the first failure the completed steps are compensated in
// reverse order. Once started, a plan runs to completion even if ctx is
// cancelled.
func (o *Orchestrator[TX]) Execute(ctx context.Context, plan *Plan[TX]) (*Execution, error) {
	ctx = context.WithoutCancel(ctx)

	id := uuid.Must(uuid.NewV7()).String()
	r := &run[TX]{
		exec: &Execution{
			ID:      id,
			Plan:    plan.Name,
			Log:     NewPlanLog(id),
			outputs: btree.NewMap[StepName, any](8),
		},
		plan:      plan,
		resources: make(map[StepName]ResourceKey),
		startedAt: time.Now(),
		log:       o.log.With().Str("plan", string(plan.Name)).Str("plan_id", id).Logger(),
	}

	order, err := plan.Order()
	if err != nil {
		return r.exec, err
	}
	r.order = order
	o.persist(ctx, r, PlanStatusRunning, nil)

	if plan.Kind != OpDelete {
		if err := o.precheck(ctx, plan); err != nil {
			r.log.Info().Err(err).Msg("plan rejected before any remote call")
			o.persist(ctx, r, PlanStatusRejected, err)
			observability.RecordPlan(string(plan.Name), PlanStatusRejected)
			return r.exec, err
		}
	}

	for i, step := range order {
		start := time.Now()
		result, err := step.Do(ctx, r.stepContext(i))
		r.exec.trace = append(r.exec.trace, ExecutionRecord{
			Step:      step.Name(),
			Phase:     PhaseDo,
			StartTime: start,
			EndTime:   time.Now(),
			Error:     err,
		})

		if err != nil {
			r.record(step.Name(), EventRemoteFailed, err)
			r.log.Warn().Err(err).Str("step", string(step.Name())).Msg("step failed, compensating")
			return r.exec, o.unwind(ctx, r, &RemoteStepFailed{Step: step.Name(), Label: step.Label(), Cause: err})
		}

		r.record(step.Name(), EventRemoteSucceeded, nil)
		r.exec.outputs.Set(step.Name(), result.Output)
		r.completed = append(r.completed, step)
		r.resources[step.Name()] = result.Resource
		if result.Mirror != nil {
			r.mirrorOps = append(r.mirrorOps, result.Mirror)
		}
		o.persist(ctx, r, PlanStatusRunning, nil)
	}

	err = o.mirror.Transaction(ctx, func(tx TX) error {
		for _, op := range r.mirrorOps {
			if err := op(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.log.Error().Err(err).Msg("mirror commit failed, compensating")
		return r.exec, o.unwind(ctx, r, &MirrorCommitFailed{Cause: err})
	}

	for _, step := range r.completed {
		r.record(step.Name(), EventMirrorCommitted, nil)
	}
	o.persist(ctx, r, PlanStatusCommitted, nil)
	observability.RecordPlan(string(plan.Name), PlanStatusCommitted)
	r.log.Debug().Int("steps", len(r.completed)).Msg("plan committed")

	if o.reaper != nil {
		o.reaper.Reap(ctx)
	}

	return r.exec, nil
}

// precheck rejects the plan if any declared unique value is already taken.
func (o *Orchestrator[TX]) precheck(ctx context.Context, plan *Plan[TX]) error {
	for _, key := range plan.Unique {
		taken, err := o.mirror.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("uniqueness check for %s.%s: %w", key.Kind, key.Field, err)
		}
		if taken {
			return &ConflictError{Key: key}
		}
	}
	return nil
}

// unwind compensates every completed step in reverse order and returns the
// error to surface to the caller.
func (o *Orchestrator[TX]) unwind(ctx context.Context, r *run[TX], failure error) error {
	o.persist(ctx, r, PlanStatusCompensating, failure)

	var dispatchErrs []error
	for i := len(r.completed) - 1; i >= 0; i-- {
		if err := o.compensate(ctx, r, i, r.completed[i]); err != nil {
			dispatchErrs = append(dispatchErrs, err)
		}
	}

	if len(dispatchErrs) > 0 {
		aborted := &PlanAborted{Cause: failure, Compensations: dispatchErrs}
		r.log.Error().Err(aborted).Msg("plan aborted with undispatched compensations")
		o.persist(ctx, r, PlanStatusAborted, aborted)
		observability.RecordPlan(string(r.plan.Name), PlanStatusAborted)
		return aborted
	}

	o.persist(ctx, r, PlanStatusFailed, failure)
	observability.RecordPlan(string(r.plan.Name), PlanStatusFailed)
	return failure
}

// compensate attempts one compensation inline and hands it to the scheduler
// if that attempt fails. The returned error means the compensation could not
// be dispatched at all.
func (o *Orchestrator[TX]) compensate(ctx context.Context, r *run[TX], index int, step Step[TX]) error {
	comp, err := step.Undo(r.stepContext(index))
	if err != nil {
		return fmt.Errorf("build compensation for %s: %w", step.Name(), err)
	}
	if comp == nil {
		return nil
	}

	r.record(step.Name(), EventUndoStarted, nil)
	runErr := o.attempt(ctx, r, step.Name(), *comp)
	if runErr == nil {
		r.record(step.Name(), EventUndoFinished, nil)
		observability.RecordCompensation(string(comp.Action), "inline_ok")
		return nil
	}

	var actionErr *ActionError
	if errors.As(runErr, &actionErr) {
		return fmt.Errorf("compensate %s: %w", step.Name(), runErr)
	}

	r.record(step.Name(), EventUndoDeferred, runErr)
	r.log.Warn().Err(runErr).
		Str("action", string(comp.Action)).
		Str("resource", comp.Resource.String()).
		Msg("inline compensation failed, scheduling retries")
	o.scheduler.Schedule(ctx, *comp)
	observability.RecordCompensation(string(comp.Action), "scheduled")
	return nil
}

// attempt runs one compensation while holding its resource key and records
// the result in the mirror when it succeeds.
func (o *Orchestrator[TX]) attempt(ctx context.Context, r *run[TX], name StepName, comp Compensation) error {
	release := o.scheduler.Acquire(comp.Resource)
	defer release()

	if err := o.mirror.SetLifecycle(ctx, comp.Resource, LifecycleCompensating); err != nil {
		r.log.Warn().Err(err).Str("resource", comp.Resource.String()).Msg("failed to mark resource compensating")
	}

	start := time.Now()
	result, err := o.registry.Run(ctx, comp)
	r.exec.trace = append(r.exec.trace, ExecutionRecord{
		Step:      name,
		Phase:     PhaseUndo,
		Action:    comp.Action,
		StartTime: start,
		EndTime:   time.Now(),
		Error:     err,
	})
	if err != nil {
		return err
	}

	if err := Settle(ctx, o.mirror, comp, result); err != nil {
		r.log.Warn().Err(err).Msg("compensation succeeded but mirror bookkeeping failed")
	}
	return nil
}

// persist saves the execution record. Failures are logged, never returned.
func (o *Orchestrator[TX]) persist(ctx context.Context, r *run[TX], status string, cause error) {
	if o.store == nil {
		return
	}

	steps := make([]StepRecord, 0, len(r.order))
	for _, step := range r.order {
		rec := StepRecord{
			Name:      string(step.Name()),
			Lifecycle: r.exec.Log.Status(step.Name()),
			Resource:  r.resources[step.Name()],
		}
		if val, ok := r.exec.outputs.Get(step.Name()); ok && val != nil {
			data, err := json.Marshal(val)
			if err != nil {
				r.log.Warn().Err(err).Str("step", string(step.Name())).Msg("failed to marshal step output")
			} else {
				rec.Output = data
			}
		}
		steps = append(steps, rec)
	}

	record := PlanRecord{
		ID:        r.exec.ID,
		Name:      string(r.plan.Name),
		Kind:      r.plan.Kind.String(),
		Status:    status,
		Steps:     steps,
		CreatedAt: r.startedAt,
		UpdatedAt: time.Now(),
	}
	if cause != nil {
		record.Error = cause.Error()
	}

	if err := o.store.Save(ctx, record); err != nil {
		r.log.Warn().Err(err).Str("status", status).Msg("failed to persist plan record")
	}
}
