package gatewaysync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// ActionName is the unique name of a registered compensation action.
type ActionName string

// CompensationAction undoes the remote effect of a completed step. Run must be
// safe to invoke more than once with the same payload.
type CompensationAction interface {
	Name() ActionName
	Run(ctx context.Context, payload json.RawMessage) (CompensationResult, error)
}

// ActionRegistry maps action names to compensation actions.
//
// A compensation leaves the process as a durable job carrying only the action
// name and a JSON payload, so the concrete action has to be recovered by name
// when the job is retried or resumed after a restart. Every action a plan may
// emit must therefore be registered before plans run.
type ActionRegistry struct {
	actions *xsync.MapOf[ActionName, CompensationAction]
}

// NewActionRegistry creates an empty ActionRegistry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		actions: xsync.NewMapOf[ActionName, CompensationAction](),
	}
}

// Register adds an action to the registry.
func (r *ActionRegistry) Register(action CompensationAction) error {
	if _, loaded := r.actions.LoadOrStore(action.Name(), action); loaded {
		return fmt.Errorf("action with name '%s' already registered", action.Name())
	}
	return nil
}

// Get retrieves an action by name.
func (r *ActionRegistry) Get(name ActionName) (CompensationAction, error) {
	action, ok := r.actions.Load(name)
	if !ok {
		return nil, ActionNotFound(name)
	}
	return action, nil
}

// Names lists the registered action names.
func (r *ActionRegistry) Names() []ActionName {
	names := make([]ActionName, 0, r.actions.Size())
	r.actions.Range(func(name ActionName, _ CompensationAction) bool {
		names = append(names, name)
		return true
	})
	return names
}

// Run resolves the compensation's action and invokes it once.
func (r *ActionRegistry) Run(ctx context.Context, comp Compensation) (CompensationResult, error) {
	action, err := r.Get(comp.Action)
	if err != nil {
		return CompensationResult{}, err
	}
	return action.Run(ctx, comp.Payload)
}
