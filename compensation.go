package gatewaysync

import (
	"context"
	"encoding/json"
	"fmt"
)

// Compensation is a serializable request to undo one remote effect.
type Compensation struct {
	Action   ActionName      `json:"action"`
	Resource ResourceKey     `json:"resource"`
	Payload  json.RawMessage `json:"payload"`
	// Reattach names the mirror row that receives the remote id produced by a
	// successful run. It is set when the compensation recreates a resource.
	Reattach *Reattach `json:"reattach,omitempty"`
}

// Reattach points at an existing mirror row.
type Reattach struct {
	Kind    ResourceKind `json:"kind"`
	LocalID string       `json:"local_id"`
}

// CompensationResult carries what a compensation produced remotely.
type CompensationResult struct {
	RemoteID string `json:"remote_id,omitempty"`
}

// LifecycleRecorder writes compensation outcomes back to the mirror. Both
// methods are no-ops for resources without a mirror row.
type LifecycleRecorder interface {
	SetLifecycle(ctx context.Context, key ResourceKey, state Lifecycle) error
	ReattachRemoteID(ctx context.Context, target Reattach, remoteID string) error
}

// Settle records a successful compensation: a recreated remote id is attached
// to its mirror row and the resource is marked compensated.
func Settle(ctx context.Context, rec LifecycleRecorder, comp Compensation, result CompensationResult) error {
	if comp.Reattach != nil && result.RemoteID != "" {
		if err := rec.ReattachRemoteID(ctx, *comp.Reattach, result.RemoteID); err != nil {
			return fmt.Errorf("reattach %s/%s: %w", comp.Reattach.Kind, comp.Reattach.LocalID, err)
		}
	}
	if err := rec.SetLifecycle(ctx, comp.Resource, LifecycleCompensated); err != nil {
		return fmt.Errorf("mark %s compensated: %w", comp.Resource, err)
	}
	return nil
}

// CompensationFunc is a CompensationAction backed by an ordinary function
// taking a typed payload.
type CompensationFunc[P any] struct {
	name ActionName
	fn   func(ctx context.Context, payload P) (CompensationResult, error)
}

// NewCompensation constructs a CompensationFunc.
func NewCompensation[P any](name ActionName, fn func(ctx context.Context, payload P) (CompensationResult, error)) *CompensationFunc[P] {
	return &CompensationFunc[P]{name: name, fn: fn}
}

// Name implements CompensationAction.
func (c *CompensationFunc[P]) Name() ActionName {
	return c.name
}

// Run implements CompensationAction.
func (c *CompensationFunc[P]) Run(ctx context.Context, payload json.RawMessage) (CompensationResult, error) {
	var p P
	if err := json.Unmarshal(payload, &p); err != nil {
		return CompensationResult{}, DeserializeFailed(err)
	}
	return c.fn(ctx, p)
}

// For builds a Compensation invoking this action with the given payload.
func (c *CompensationFunc[P]) For(resource ResourceKey, payload P) (*Compensation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, SerializeFailed(err)
	}
	return &Compensation{Action: c.name, Resource: resource, Payload: data}, nil
}

func (c *CompensationFunc[P]) String() string {
	return fmt.Sprintf("CompensationFunc[%s]", c.name)
}
