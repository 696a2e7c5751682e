package gatewaysync

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// memTx stages row writes until the transaction commits.
type memTx struct {
	rows map[string]string
}

func (tx *memTx) Put(key, value string) {
	tx.rows[key] = value
}

// memMirror is a Mirror over a map of rows keyed by id.
type memMirror struct {
	mu        sync.Mutex
	rows      map[string]string
	taken     map[UniqueKey]bool
	lifecycle map[ResourceKey][]Lifecycle
	reattach  map[string]string
	commitErr error
	commits   int
}

func newMemMirror() *memMirror {
	return &memMirror{
		rows:      make(map[string]string),
		taken:     make(map[UniqueKey]bool),
		lifecycle: make(map[ResourceKey][]Lifecycle),
		reattach:  make(map[string]string),
	}
}

func (m *memMirror) Transaction(ctx context.Context, fn func(tx *memTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitErr != nil {
		return m.commitErr
	}
	tx := &memTx{rows: make(map[string]string)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.rows {
		m.rows[k] = v
	}
	m.commits++
	return nil
}

func (m *memMirror) Exists(ctx context.Context, key UniqueKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.taken[UniqueKey{Kind: key.Kind, Field: key.Field, Value: key.Value}], nil
}

func (m *memMirror) SetLifecycle(ctx context.Context, key ResourceKey, state Lifecycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lifecycle[key] = append(m.lifecycle[key], state)
	return nil
}

func (m *memMirror) ReattachRemoteID(ctx context.Context, target Reattach, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reattach[string(target.Kind)+"/"+target.LocalID] = remoteID
	return nil
}

func (m *memMirror) Row(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.rows[id]
	return v, ok
}

func (m *memMirror) States(key ResourceKey) []Lifecycle {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Lifecycle(nil), m.lifecycle[key]...)
}

// recordingScheduler keeps scheduled compensations instead of running them
// and remembers which resource keys were held for inline attempts.
type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []Compensation
	acquired  []ResourceKey
	held      int
}

func (s *recordingScheduler) Acquire(key ResourceKey) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acquired = append(s.acquired, key)
	s.held++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.held--
	}
}

func (s *recordingScheduler) Acquired() ([]ResourceKey, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ResourceKey(nil), s.acquired...), s.held
}

func (s *recordingScheduler) Schedule(ctx context.Context, comp Compensation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduled = append(s.scheduled, comp)
}

func (s *recordingScheduler) Scheduled() []Compensation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Compensation(nil), s.scheduled...)
}

type countingReaper struct {
	mu    sync.Mutex
	calls int
}

func (r *countingReaper) Reap(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
}

// fakeRemote simulates a control plane holding named objects.
type fakeRemote struct {
	mu      sync.Mutex
	objects map[string]bool
	calls   []string
	fail    map[string]error
	seq     int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		objects: make(map[string]bool),
		fail:    make(map[string]error),
	}
}

func (r *fakeRemote) call(op, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, op+" "+name)
	if err, ok := r.fail[op+" "+name]; ok {
		return "", err
	}
	switch op {
	case "create":
		r.seq++
		id := fmt.Sprintf("%s-%d", name, r.seq)
		r.objects[id] = true
		return id, nil
	case "delete":
		delete(r.objects, name)
	}
	return name, nil
}

func (r *fakeRemote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

func (r *fakeRemote) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.objects)
}

type removePayload struct {
	RemoteID string `json:"remote_id"`
}

// testActions registers the compensations used by the test plans.
func testActions(remote *fakeRemote) (*ActionRegistry, *CompensationFunc[removePayload]) {
	registry := NewActionRegistry()
	remove := NewCompensation("remove", func(ctx context.Context, p removePayload) (CompensationResult, error) {
		_, err := remote.call("delete", p.RemoteID)
		return CompensationResult{}, err
	})
	if err := registry.Register(remove); err != nil {
		panic(err)
	}
	return registry, remove
}

type created struct {
	RemoteID string `json:"remote_id"`
}

// createStep creates a remote object and stages a mirror row for it.
func createStep(remote *fakeRemote, remove *CompensationFunc[removePayload], name string) Step[*memTx] {
	return NewStep[*memTx](StepName("create_"+name), name+" creation",
		func(ctx context.Context, sc *StepContext) (StepResult[*memTx], error) {
			id, err := remote.call("create", name)
			if err != nil {
				return StepResult[*memTx]{}, err
			}
			return StepResult[*memTx]{
				Output:   created{RemoteID: id},
				Resource: KeyOf(KindService, id),
				Mirror: func(ctx context.Context, tx *memTx) error {
					tx.Put(name, id)
					return nil
				},
			}, nil
		},
		func(sc *StepContext) (*Compensation, error) {
			out, ok := LookupTyped[created](sc, StepName("create_"+name))
			if !ok {
				return nil, errors.New("missing output")
			}
			return remove.For(KeyOf(KindService, out.RemoteID), removePayload{RemoteID: out.RemoteID})
		},
	)
}

func buildPlan(t interface{ Fatalf(string, ...any) }, name PlanName, kind OperationKind, steps ...Step[*memTx]) *Plan[*memTx] {
	b := NewPlanBuilder[*memTx](name, kind)
	for _, s := range steps {
		if err := b.Append(s); err != nil {
			t.Fatalf("append %s: %v", s.Name(), err)
		}
	}
	plan, err := b.Build()
	if err != nil {
		t.Fatalf("build %s: %v", name, err)
	}
	return plan
}
