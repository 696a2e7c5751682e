package operations

import (
	"context"
	"fmt"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/mirror"
)

// API is a service exposed through a single route.
type API struct {
	Service *mirror.Service `json:"service"`
	Route   *mirror.Route   `json:"route,omitempty"`
}

func (o *Operator) createAPIPlan(f APIFields) (*plan, error) {
	return newPlan(PlanCreateAPI, gatewaysync.OpCreate, func(b *builder) error {
		b.Require(
			unique(gatewaysync.KindService, "name", f.Name, ""),
			unique(gatewaysync.KindService, "url", f.URL, ""),
			unique(gatewaysync.KindRoute, "path", f.Path, ""),
		)
		if err := b.Append(o.createServiceStep(f.service())); err != nil {
			return err
		}
		return b.Append(o.createRouteStep(serviceFromStep(stepCreateService), f.route()))
	})
}

// updateAPIPlan patches the service, then the route. A failed route update
// restores the service.
func (o *Operator) updateAPIPlan(api *API, f APIFields) (*plan, error) {
	svcFields, routeFields := f.service(), f.route()

	return newPlan(PlanUpdateAPI, gatewaysync.OpUpdate, func(b *builder) error {
		b.Require(
			unique(gatewaysync.KindService, "name", f.Name, api.Service.ID),
			unique(gatewaysync.KindService, "url", f.URL, api.Service.ID),
		)
		if !svcFields.empty() {
			s, err := o.updateServiceStep(api.Service, svcFields)
			if err != nil {
				return err
			}
			if err := b.Append(s); err != nil {
				return err
			}
		}
		if !routeFields.empty() {
			if api.Route == nil {
				return fmt.Errorf("api %s has no route: %w", api.Service.ID, gatewaysync.ErrNotFound)
			}
			b.Require(unique(gatewaysync.KindRoute, "path", f.Path, api.Route.ID))
			s, err := o.updateRouteStep(api.Route, routeFields)
			if err != nil {
				return err
			}
			if err := b.Append(s); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAPI loads the service found by id or name together with its first route.
func (o *Operator) GetAPI(ctx context.Context, ref string) (*API, error) {
	svc, err := o.mirror.GetService(ctx, ref)
	if err != nil {
		return nil, err
	}

	routes, err := o.mirror.ListRoutes(ctx, svc.ID)
	if err != nil {
		return nil, err
	}

	api := &API{Service: svc}
	if len(routes) > 0 {
		api.Route = &routes[0]
	}
	return api, nil
}

// CreateAPI creates a service and a route for it in one plan. If the route
// cannot be created the service is deleted again.
func (o *Operator) CreateAPI(ctx context.Context, f APIFields) (*API, *gatewaysync.Execution, error) {
	if deref(f.URL) == "" {
		return nil, nil, gatewaysync.Invalid("url is required")
	}
	if deref(f.Path) == "" {
		return nil, nil, gatewaysync.Invalid("path is required")
	}

	p, err := o.createAPIPlan(f)
	if err != nil {
		return nil, nil, err
	}

	exec, err := o.orch.Execute(ctx, p)
	if err != nil {
		return nil, exec, err
	}

	svc, err := outputOf[*mirror.Service](exec, stepCreateService)
	if err != nil {
		return nil, exec, err
	}
	route, err := outputOf[*mirror.Route](exec, stepCreateRoute)
	if err != nil {
		return nil, exec, err
	}
	return &API{Service: svc, Route: route}, exec, nil
}

// UpdateAPI patches the service and route behind an API.
func (o *Operator) UpdateAPI(ctx context.Context, ref string, f APIFields) (*API, *gatewaysync.Execution, error) {
	if f.service().empty() && f.route().empty() {
		return nil, nil, gatewaysync.Invalid("no fields to update")
	}

	api, err := o.GetAPI(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	p, err := o.updateAPIPlan(api, f)
	if err != nil {
		return nil, nil, err
	}

	exec, err := o.orch.Execute(ctx, p)
	if err != nil {
		return nil, exec, err
	}

	if svc, ok := gatewaysync.OutputOf[*mirror.Service](exec, stepUpdateService); ok {
		api.Service = svc
	}
	if route, ok := gatewaysync.OutputOf[*mirror.Route](exec, stepUpdateRoute); ok {
		api.Route = route
	}
	return api, exec, nil
}

// DeleteAPI deletes the route and then the service of an API. If the service
// cannot be deleted the route is recreated.
func (o *Operator) DeleteAPI(ctx context.Context, ref string) (*gatewaysync.Execution, error) {
	return o.deleteService(ctx, PlanDeleteAPI, ref)
}
