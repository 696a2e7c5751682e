// Package operations turns API requests into plans of gateway calls and
// mirror writes and runs them through the orchestrator.
package operations

import (
	"fmt"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/gateway"
	"github.com/fortressi/gatewaysync/mirror"
)

type (
	plan    = gatewaysync.Plan[*mirror.Tx]
	step    = gatewaysync.Step[*mirror.Tx]
	result  = gatewaysync.StepResult[*mirror.Tx]
	builder = gatewaysync.PlanBuilder[*mirror.Tx]
)

// Plan names.
const (
	PlanCreateAPI     gatewaysync.PlanName = "create_api"
	PlanUpdateAPI     gatewaysync.PlanName = "update_api"
	PlanDeleteAPI     gatewaysync.PlanName = "delete_api"
	PlanCreateService gatewaysync.PlanName = "create_service"
	PlanUpdateService gatewaysync.PlanName = "update_service"
	PlanDeleteService gatewaysync.PlanName = "delete_service"
	PlanCreateRoute   gatewaysync.PlanName = "create_route"
	PlanUpdateRoute   gatewaysync.PlanName = "update_route"
	PlanDeleteRoute   gatewaysync.PlanName = "delete_route"
	PlanCreatePlugin  gatewaysync.PlanName = "create_plugin"
	PlanUpdatePlugin  gatewaysync.PlanName = "update_plugin"
	PlanDeletePlugin  gatewaysync.PlanName = "delete_plugin"
)

const (
	stepCreateService gatewaysync.StepName = "create_service"
	stepUpdateService gatewaysync.StepName = "update_service"
	stepDeleteService gatewaysync.StepName = "delete_service"
	stepCreateRoute   gatewaysync.StepName = "create_route"
	stepUpdateRoute   gatewaysync.StepName = "update_route"
	stepCreatePlugin  gatewaysync.StepName = "create_plugin"
	stepUpdatePlugin  gatewaysync.StepName = "update_plugin"
	stepDeletePlugin  gatewaysync.StepName = "delete_plugin"
)

func stepDeleteRoute(routeID string) gatewaysync.StepName {
	return gatewaysync.StepName("delete_route:" + routeID)
}

// Operator runs every mutating operation on gateway resources.
type Operator struct {
	gw      *gateway.Client
	mirror  *mirror.Store
	orch    *gatewaysync.Orchestrator[*mirror.Tx]
	actions *Actions
}

func New(gw *gateway.Client, store *mirror.Store, orch *gatewaysync.Orchestrator[*mirror.Tx], actions *Actions) *Operator {
	return &Operator{gw: gw, mirror: store, orch: orch, actions: actions}
}

func newPlan(name gatewaysync.PlanName, kind gatewaysync.OperationKind, build func(b *builder) error) (*plan, error) {
	b := gatewaysync.NewPlanBuilder[*mirror.Tx](name, kind)
	if err := build(b); err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	return b.Build()
}

func outputOf[R any](exec *gatewaysync.Execution, name gatewaysync.StepName) (R, error) {
	v, ok := gatewaysync.OutputOf[R](exec, name)
	if !ok {
		var zero R
		return zero, fmt.Errorf("plan %s: step %s produced no output", exec.Plan, name)
	}
	return v, nil
}

func unique(kind gatewaysync.ResourceKind, field string, value *string, except string) gatewaysync.UniqueKey {
	return gatewaysync.UniqueKey{Kind: kind, Field: field, Value: deref(value), ExceptID: except}
}

func missingOutput(name gatewaysync.StepName) error {
	return fmt.Errorf("no output recorded for step %s", name)
}
