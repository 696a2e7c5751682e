package gatewaysync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestratorCommitsAllRowsTogether(t *testing.T) {
	remote := newFakeRemote()
	registry, remove := testActions(remote)
	mirror := newMemMirror()
	reaper := &countingReaper{}
	store := NewMemoryStore()

	orch := NewOrchestrator[*memTx](mirror, registry, &recordingScheduler{},
		WithReaper(reaper), WithStore(store))

	plan := buildPlan(t, "create_pair", OpCreate,
		createStep(remote, remove, "a"),
		createStep(remote, remove, "b"),
	)

	exec, err := orch.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, []string{"create_a", "create_b"}, exec.Order())
	assert.Empty(t, exec.Compensated())
	assert.Equal(t, 1, mirror.commits)
	assert.Equal(t, 1, reaper.calls)

	a, ok := mirror.Row("a")
	require.True(t, ok)
	assert.Equal(t, "a-1", a)
	b, ok := mirror.Row("b")
	require.True(t, ok)
	assert.Equal(t, "b-2", b)

	out, ok := OutputOf[created](exec, "create_b")
	require.True(t, ok)
	assert.Equal(t, "b-2", out.RemoteID)

	assert.Equal(t, LifecycleMirrorCommitted, exec.Log.Status("create_a"))
	assert.Equal(t, LifecycleMirrorCommitted, exec.Log.Status("create_b"))

	record, err := store.Load(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanStatusCommitted, record.Status)
	assert.Equal(t, "create", record.Kind)
	require.Len(t, record.Steps, 2)
	assert.Equal(t, LifecycleMirrorCommitted, record.Steps[1].Lifecycle)
	assert.Equal(t, KeyOf(KindService, "b-2"), record.Steps[1].Resource)
	assert.JSONEq(t, `{"remote_id":"b-2"}`, string(record.Steps[1].Output))
}

func TestOrchestratorCompensatesInReverseOrder(t *testing.T) {
	remote := newFakeRemote()
	registry, remove := testActions(remote)
	remote.fail["create c"] = errors.New("upstream returned 500")
	mirror := newMemMirror()
	reaper := &countingReaper{}
	scheduler := &recordingScheduler{}

	orch := NewOrchestrator[*memTx](mirror, registry, scheduler, WithReaper(reaper))

	plan := buildPlan(t, "create_three", OpCreate,
		createStep(remote, remove, "a"),
		createStep(remote, remove, "b"),
		createStep(remote, remove, "c"),
	)

	exec, err := orch.Execute(context.Background(), plan)
	require.Error(t, err)

	var stepErr *RemoteStepFailed
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepName("create_c"), stepErr.Step)
	assert.Equal(t, "c creation failed: upstream returned 500", err.Error())

	assert.Equal(t, []string{"create_b", "create_a"}, exec.Compensated())
	assert.Equal(t, []string{
		"create a",
		"create b",
		"create c",
		"delete b-2",
		"delete a-1",
	}, remote.Calls())
	assert.Zero(t, remote.Len())

	_, ok := mirror.Row("a")
	assert.False(t, ok, "no mirror row is visible after a failed plan")
	assert.Zero(t, mirror.commits)
	assert.Zero(t, reaper.calls)
	assert.Empty(t, scheduler.Scheduled())

	assert.Equal(t, LifecycleCompensated, exec.Log.Status("create_a"))
	assert.Equal(t, LifecyclePendingRemote, exec.Log.Status("create_c"))
	assert.True(t, exec.Log.Unwinding())

	assert.Equal(t, []Lifecycle{LifecycleCompensating, LifecycleCompensated},
		mirror.States(KeyOf(KindService, "a-1")))

	acquired, held := scheduler.Acquired()
	assert.Equal(t, []ResourceKey{KeyOf(KindService, "b-2"), KeyOf(KindService, "a-1")}, acquired,
		"every inline compensation holds its resource key")
	assert.Zero(t, held)
}

func TestOrchestratorSchedulesFailedCompensation(t *testing.T) {
	remote := newFakeRemote()
	registry, remove := testActions(remote)
	remote.fail["create b"] = errors.New("boom")
	remote.fail["delete a-1"] = errors.New("connection refused")
	mirror := newMemMirror()
	scheduler := &recordingScheduler{}

	orch := NewOrchestrator[*memTx](mirror, registry, scheduler)

	plan := buildPlan(t, "create_pair", OpCreate,
		createStep(remote, remove, "a"),
		createStep(remote, remove, "b"),
	)

	exec, err := orch.Execute(context.Background(), plan)

	var stepErr *RemoteStepFailed
	require.ErrorAs(t, err, &stepErr)

	var aborted *PlanAborted
	assert.False(t, errors.As(err, &aborted), "a schedulable compensation does not abort the plan")

	scheduled := scheduler.Scheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, ActionName("remove"), scheduled[0].Action)
	assert.Equal(t, KeyOf(KindService, "a-1"), scheduled[0].Resource)
	assert.JSONEq(t, `{"remote_id":"a-1"}`, string(scheduled[0].Payload))

	assert.Equal(t, LifecycleCompensating, exec.Log.Status("create_a"))
	assert.Equal(t, []Lifecycle{LifecycleCompensating}, mirror.States(KeyOf(KindService, "a-1")))
}

func TestOrchestratorRejectsDuplicateBeforeRemoteCalls(t *testing.T) {
	remote := newFakeRemote()
	registry, remove := testActions(remote)
	mirror := newMemMirror()
	mirror.taken[UniqueKey{Kind: KindService, Field: "name", Value: "orders"}] = true
	store := NewMemoryStore()

	orch := NewOrchestrator[*memTx](mirror, registry, &recordingScheduler{}, WithStore(store))

	b := NewPlanBuilder[*memTx]("create_service", OpCreate)
	b.Require(
		UniqueKey{Kind: KindService, Field: "url", Value: ""},
		UniqueKey{Kind: KindService, Field: "name", Value: "orders"},
	)
	require.NoError(t, b.Append(createStep(remote, remove, "a")))
	plan, err := b.Build()
	require.NoError(t, err)
	require.Len(t, plan.Unique, 1, "empty values are not checked")

	exec, err := orch.Execute(context.Background(), plan)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "name", conflict.Key.Field)
	assert.Equal(t, `service with name "orders" already exists`, err.Error())
	assert.Empty(t, remote.Calls())
	assert.Empty(t, exec.Order())

	record, err := store.Load(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanStatusRejected, record.Status)
}

func TestOrchestratorCompensatesOnCommitFailure(t *testing.T) {
	remote := newFakeRemote()
	registry, remove := testActions(remote)
	mirror := newMemMirror()
	mirror.commitErr = errors.New("database is locked")
	reaper := &countingReaper{}

	orch := NewOrchestrator[*memTx](mirror, registry, &recordingScheduler{}, WithReaper(reaper))

	plan := buildPlan(t, "create_pair", OpCreate,
		createStep(remote, remove, "a"),
		createStep(remote, remove, "b"),
	)

	exec, err := orch.Execute(context.Background(), plan)

	var commitErr *MirrorCommitFailed
	require.ErrorAs(t, err, &commitErr)
	assert.EqualError(t, commitErr.Cause, "database is locked")

	assert.Equal(t, []string{"create_b", "create_a"}, exec.Compensated())
	assert.Zero(t, remote.Len())
	assert.Zero(t, reaper.calls)
}

func TestOrchestratorAbortsWhenCompensationCannotDispatch(t *testing.T) {
	remote := newFakeRemote()
	registry := NewActionRegistry()
	unregistered := NewCompensation("unregistered", func(ctx context.Context, p removePayload) (CompensationResult, error) {
		return CompensationResult{}, nil
	})
	remote.fail["create b"] = errors.New("boom")
	scheduler := &recordingScheduler{}
	store := NewMemoryStore()

	orch := NewOrchestrator[*memTx](newMemMirror(), registry, scheduler, WithStore(store))

	plan := buildPlan(t, "create_pair", OpCreate,
		createStep(remote, unregistered, "a"),
		createStep(remote, unregistered, "b"),
	)

	exec, err := orch.Execute(context.Background(), plan)

	var aborted *PlanAborted
	require.ErrorAs(t, err, &aborted)
	require.Len(t, aborted.Compensations, 1)

	var actionErr *ActionError
	assert.ErrorAs(t, aborted.Compensations[0], &actionErr)

	var stepErr *RemoteStepFailed
	assert.ErrorAs(t, err, &stepErr, "the original failure stays reachable")
	assert.Empty(t, scheduler.Scheduled())

	record, err := store.Load(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanStatusAborted, record.Status)
}

func TestOrchestratorDeletePlanRunsChildrenFirst(t *testing.T) {
	var order []string
	step := func(name string) Step[*memTx] {
		return NewStep[*memTx](StepName(name), "", func(ctx context.Context, sc *StepContext) (StepResult[*memTx], error) {
			order = append(order, name)
			return StepResult[*memTx]{}, nil
		}, nil)
	}

	mirror := newMemMirror()
	// A taken key is ignored for deletes.
	mirror.taken[UniqueKey{Kind: KindService, Field: "name", Value: "orders"}] = true

	b := NewPlanBuilder[*memTx]("delete_service", OpDelete)
	b.Require(UniqueKey{Kind: KindService, Field: "name", Value: "orders"})
	require.NoError(t, b.Append(step("delete_service")))
	require.NoError(t, b.Append(step("delete_route:1")))
	plan, err := b.Build()
	require.NoError(t, err)

	orch := NewOrchestrator[*memTx](mirror, NewActionRegistry(), &recordingScheduler{})
	exec, err := orch.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, []string{"delete_route:1", "delete_service"}, order)
	assert.Equal(t, order, exec.Order())
}

func TestOrchestratorIgnoresCancellationOnceStarted(t *testing.T) {
	remote := newFakeRemote()
	registry, remove := testActions(remote)
	mirror := newMemMirror()

	ctx, cancel := context.WithCancel(context.Background())
	first := createStep(remote, remove, "a")
	cancelling := NewStep[*memTx]("cancel", "", func(ctx context.Context, sc *StepContext) (StepResult[*memTx], error) {
		cancel()
		return StepResult[*memTx]{}, nil
	}, nil)
	last := NewStep[*memTx]("check", "", func(ctx context.Context, sc *StepContext) (StepResult[*memTx], error) {
		return StepResult[*memTx]{}, ctx.Err()
	}, nil)

	plan := buildPlan(t, "create_cancelled", OpCreate, first, cancelling, last)

	orch := NewOrchestrator[*memTx](mirror, registry, &recordingScheduler{})
	_, err := orch.Execute(ctx, plan)
	require.NoError(t, err)

	_, ok := mirror.Row("a")
	assert.True(t, ok)
}
