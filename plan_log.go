package gatewaysync

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Lifecycle is the synchronization state of a mirrored resource.
type Lifecycle string

const (
	LifecyclePendingRemote         Lifecycle = "PENDING_REMOTE"
	LifecycleRemoteCommitted       Lifecycle = "REMOTE_COMMITTED"
	LifecycleMirrorCommitted       Lifecycle = "MIRROR_COMMITTED"
	LifecycleCompensating          Lifecycle = "COMPENSATING"
	LifecycleCompensated           Lifecycle = "COMPENSATED"
	LifecycleCompensationExhausted Lifecycle = "COMPENSATION_EXHAUSTED"
)

// Terminal reports whether no further transition is expected.
func (l Lifecycle) Terminal() bool {
	switch l {
	case LifecycleMirrorCommitted, LifecycleCompensated, LifecycleCompensationExhausted:
		return true
	}
	return false
}

// StepEventType defines the events recorded for a plan step.
type StepEventType int

const (
	EventRemoteSucceeded StepEventType = iota
	EventRemoteFailed
	EventMirrorCommitted
	EventUndoStarted
	EventUndoFinished
	EventUndoDeferred
)

func (e StepEventType) String() string {
	switch e {
	case EventRemoteSucceeded:
		return "remote_succeeded"
	case EventRemoteFailed:
		return "remote_failed"
	case EventMirrorCommitted:
		return "mirror_committed"
	case EventUndoStarted:
		return "undo_started"
	case EventUndoFinished:
		return "undo_finished"
	case EventUndoDeferred:
		return "undo_deferred"
	default:
		return fmt.Sprintf("unknown(%d)", int(e))
	}
}

// MarshalJSON implements the json.Marshaler interface for StepEventType.
func (e StepEventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// next returns the lifecycle a step moves to after the given event.
func (l Lifecycle) next(event StepEventType) (Lifecycle, error) {
	switch l {
	case LifecyclePendingRemote:
		switch event {
		case EventRemoteSucceeded:
			return LifecycleRemoteCommitted, nil
		case EventRemoteFailed:
			return LifecyclePendingRemote, nil
		}
	case LifecycleRemoteCommitted:
		switch event {
		case EventMirrorCommitted:
			return LifecycleMirrorCommitted, nil
		case EventUndoStarted:
			return LifecycleCompensating, nil
		}
	case LifecycleCompensating:
		switch event {
		case EventUndoFinished:
			return LifecycleCompensated, nil
		case EventUndoDeferred:
			return LifecycleCompensating, nil
		}
	}

	return l, fmt.Errorf("illegal event %s for lifecycle %s", event, l)
}

// StepEvent is an entry in the plan log.
type StepEvent struct {
	Step      StepName      `json:"step"`
	EventType StepEventType `json:"event"`
	At        time.Time     `json:"at"`
	Err       string        `json:"error,omitempty"`
}

func (e *StepEvent) String() string {
	if e.Err != "" {
		return fmt.Sprintf("%s %s (%s)", e.Step, e.EventType, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Step, e.EventType)
}

// PlanLog records the lifecycle of every step of one plan execution.
type PlanLog struct {
	mu        sync.Mutex
	planID    string
	unwinding bool
	events    []*StepEvent
	status    map[StepName]Lifecycle
}

// NewPlanLog creates an empty log for the given execution id.
func NewPlanLog(planID string) *PlanLog {
	return &PlanLog{
		planID: planID,
		events: make([]*StepEvent, 0),
		status: make(map[StepName]Lifecycle),
	}
}

// Record validates the transition and appends the event.
func (l *PlanLog) Record(step StepName, eventType StepEventType, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.status[step]
	if !ok {
		current = LifecyclePendingRemote
	}
	next, err := current.next(eventType)
	if err != nil {
		return fmt.Errorf("step %s: %w", step, err)
	}

	switch eventType {
	case EventRemoteFailed, EventUndoStarted:
		l.unwinding = true
	}

	event := &StepEvent{Step: step, EventType: eventType, At: time.Now()}
	if cause != nil {
		event.Err = cause.Error()
	}
	l.status[step] = next
	l.events = append(l.events, event)
	return nil
}

// Status returns the lifecycle of a step; steps never seen are pending.
func (l *PlanLog) Status(step StepName) Lifecycle {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.status[step]; ok {
		return s
	}
	return LifecyclePendingRemote
}

// Unwinding reports whether the plan has started compensating.
func (l *PlanLog) Unwinding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.unwinding
}

// Events returns a copy of the recorded events.
func (l *PlanLog) Events() []StepEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]StepEvent, len(l.events))
	for i, e := range l.events {
		out[i] = *e
	}
	return out
}

// String renders the log for debugging output.
func (l *PlanLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("PLAN LOG:\n")
	fmt.Fprintf(&sb, "plan id:   %s\n", l.planID)
	direction := "forward"
	if l.unwinding {
		direction = "unwinding"
	}
	fmt.Fprintf(&sb, "direction: %s\n", direction)
	fmt.Fprintf(&sb, "events (%d total):\n\n", len(l.events))
	for i, event := range l.events {
		fmt.Fprintf(&sb, "%03d %s\n", i+1, event.String())
	}
	return sb.String()
}
