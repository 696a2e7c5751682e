package operations

import (
	"context"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/mirror"
)

// serviceSource yields the parent service of a route being created, either a
// row loaded up front or the output of an earlier step.
type serviceSource func(sc *gatewaysync.StepContext) (*mirror.Service, error)

func existingService(svc *mirror.Service) serviceSource {
	return func(*gatewaysync.StepContext) (*mirror.Service, error) {
		return svc, nil
	}
}

func serviceFromStep(name gatewaysync.StepName) serviceSource {
	return func(sc *gatewaysync.StepContext) (*mirror.Service, error) {
		svc, ok := gatewaysync.LookupTyped[*mirror.Service](sc, name)
		if !ok {
			return nil, missingOutput(name)
		}
		return svc, nil
	}
}

func (o *Operator) createRouteStep(parent serviceSource, fields RouteFields) step {
	return gatewaysync.NewStep[*mirror.Tx](stepCreateRoute, "route creation",
		func(ctx context.Context, sc *gatewaysync.StepContext) (result, error) {
			svc, err := parent(sc)
			if err != nil {
				return result{}, err
			}
			res := o.gw.CreateRoute(ctx, svc.RemoteID, fields)
			if err := res.Err(); err != nil {
				return result{}, err
			}
			route, err := newRoute(svc.ID, fields, res)
			if err != nil {
				return result{}, err
			}
			return result{
				Output:   route,
				Resource: gatewaysync.KeyOf(gatewaysync.KindRoute, route.RemoteID),
				Mirror: func(ctx context.Context, tx *mirror.Tx) error {
					return tx.CreateRoute(ctx, route)
				},
			}, nil
		},
		func(sc *gatewaysync.StepContext) (*gatewaysync.Compensation, error) {
			route, ok := gatewaysync.LookupTyped[*mirror.Route](sc, stepCreateRoute)
			if !ok {
				return nil, missingOutput(stepCreateRoute)
			}
			return o.actions.DeleteRoute.For(
				gatewaysync.KeyOf(gatewaysync.KindRoute, route.RemoteID),
				DeletePayload{RemoteID: route.RemoteID},
			)
		})
}

func (o *Operator) updateRouteStep(prev *mirror.Route, fields RouteFields) (step, error) {
	values, err := snapshot(prev, fields)
	if err != nil {
		return nil, err
	}

	return gatewaysync.NewStep[*mirror.Tx](stepUpdateRoute, "route update",
		func(ctx context.Context, sc *gatewaysync.StepContext) (result, error) {
			res := o.gw.UpdateRoute(ctx, prev.RemoteID, fields)
			if err := res.Err(); err != nil {
				return result{}, err
			}
			next, err := updatedRoute(*prev, fields, res)
			if err != nil {
				return result{}, err
			}
			return result{
				Output:   next,
				Resource: gatewaysync.KeyOf(gatewaysync.KindRoute, prev.ID),
				Mirror: func(ctx context.Context, tx *mirror.Tx) error {
					return tx.SaveRoute(ctx, next)
				},
			}, nil
		},
		func(sc *gatewaysync.StepContext) (*gatewaysync.Compensation, error) {
			return o.actions.RestoreRoute.For(
				gatewaysync.KeyOf(gatewaysync.KindRoute, prev.ID),
				RestorePayload{RemoteID: prev.RemoteID, Values: values},
			)
		}), nil
}

// deleteRouteStep removes a route. Its undo recreates the route and its
// plugins from the mirror rows and points the rows at the new remote ids.
func (o *Operator) deleteRouteStep(route *mirror.Route) step {
	name := stepDeleteRoute(route.ID)
	return gatewaysync.NewStep[*mirror.Tx](name, "route deletion",
		func(ctx context.Context, sc *gatewaysync.StepContext) (result, error) {
			if err := gone(o.gw.DeleteRoute(ctx, route.RemoteID)); err != nil {
				return result{}, err
			}
			return result{
				Output:   route,
				Resource: gatewaysync.KeyOf(gatewaysync.KindRoute, route.ID),
				Mirror: func(ctx context.Context, tx *mirror.Tx) error {
					return tx.DeleteRoute(ctx, route.ID)
				},
			}, nil
		},
		func(sc *gatewaysync.StepContext) (*gatewaysync.Compensation, error) {
			comp, err := o.actions.RecreateRoute.For(
				gatewaysync.KeyOf(gatewaysync.KindRoute, route.ID),
				RecreateRoutePayload{ServiceID: route.ServiceID, RouteID: route.ID, Fields: routeFields(route)},
			)
			if err != nil {
				return nil, err
			}
			comp.Reattach = &gatewaysync.Reattach{Kind: gatewaysync.KindRoute, LocalID: route.ID}
			return comp, nil
		})
}

func validateNewRoute(f RouteFields) error {
	if f.Paths == nil && f.Hosts == nil && f.Methods == nil && f.Headers == nil {
		return gatewaysync.Invalid("at least one of paths, hosts, methods or headers is required")
	}
	return nil
}

func (o *Operator) createRoutePlan(svc *mirror.Service, f RouteFields) (*plan, error) {
	return newPlan(PlanCreateRoute, gatewaysync.OpCreate, func(b *builder) error {
		path := firstPath(f.Paths)
		b.Require(
			unique(gatewaysync.KindRoute, "name", f.Name, ""),
			unique(gatewaysync.KindRoute, "path", &path, ""),
		)
		return b.Append(o.createRouteStep(existingService(svc), f))
	})
}

func (o *Operator) updateRoutePlan(route *mirror.Route, f RouteFields) (*plan, error) {
	return newPlan(PlanUpdateRoute, gatewaysync.OpUpdate, func(b *builder) error {
		path := firstPath(f.Paths)
		b.Require(
			unique(gatewaysync.KindRoute, "name", f.Name, route.ID),
			unique(gatewaysync.KindRoute, "path", &path, route.ID),
		)
		s, err := o.updateRouteStep(route, f)
		if err != nil {
			return err
		}
		return b.Append(s)
	})
}

func (o *Operator) deleteRoutePlan(route *mirror.Route) (*plan, error) {
	return newPlan(PlanDeleteRoute, gatewaysync.OpDelete, func(b *builder) error {
		return b.Append(o.deleteRouteStep(route))
	})
}

// CreateRoute creates a route under the service found by id or name.
func (o *Operator) CreateRoute(ctx context.Context, serviceRef string, f RouteFields) (*mirror.Route, *gatewaysync.Execution, error) {
	if err := validateNewRoute(f); err != nil {
		return nil, nil, err
	}

	svc, err := o.mirror.GetService(ctx, serviceRef)
	if err != nil {
		return nil, nil, err
	}

	p, err := o.createRoutePlan(svc, f)
	if err != nil {
		return nil, nil, err
	}

	exec, err := o.orch.Execute(ctx, p)
	if err != nil {
		return nil, exec, err
	}

	route, err := outputOf[*mirror.Route](exec, stepCreateRoute)
	return route, exec, err
}

// UpdateRoute patches the route found by id or name.
func (o *Operator) UpdateRoute(ctx context.Context, ref string, f RouteFields) (*mirror.Route, *gatewaysync.Execution, error) {
	if f.empty() {
		return nil, nil, gatewaysync.Invalid("no fields to update")
	}

	route, err := o.mirror.GetRoute(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	p, err := o.updateRoutePlan(route, f)
	if err != nil {
		return nil, nil, err
	}

	exec, err := o.orch.Execute(ctx, p)
	if err != nil {
		return nil, exec, err
	}

	next, err := outputOf[*mirror.Route](exec, stepUpdateRoute)
	return next, exec, err
}

// DeleteRoute deletes the route found by id or name.
func (o *Operator) DeleteRoute(ctx context.Context, ref string) (*gatewaysync.Execution, error) {
	route, err := o.mirror.GetRoute(ctx, ref)
	if err != nil {
		return nil, err
	}

	p, err := o.deleteRoutePlan(route)
	if err != nil {
		return nil, err
	}

	return o.orch.Execute(ctx, p)
}
