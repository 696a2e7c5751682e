package operations

import (
	"context"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/mirror"
)

func (o *Operator) createServiceStep(fields ServiceFields) step {
	return gatewaysync.NewStep[*mirror.Tx](stepCreateService, "service creation",
		func(ctx context.Context, sc *gatewaysync.StepContext) (result, error) {
			res := o.gw.CreateService(ctx, fields)
			if err := res.Err(); err != nil {
				return result{}, err
			}
			svc, err := newService(fields, res)
			if err != nil {
				return result{}, err
			}
			return result{
				Output:   svc,
				Resource: gatewaysync.KeyOf(gatewaysync.KindService, svc.RemoteID),
				Mirror: func(ctx context.Context, tx *mirror.Tx) error {
					return tx.CreateService(ctx, svc)
				},
			}, nil
		},
		func(sc *gatewaysync.StepContext) (*gatewaysync.Compensation, error) {
			svc, ok := gatewaysync.LookupTyped[*mirror.Service](sc, stepCreateService)
			if !ok {
				return nil, missingOutput(stepCreateService)
			}
			return o.actions.DeleteService.For(
				gatewaysync.KeyOf(gatewaysync.KindService, svc.RemoteID),
				DeletePayload{RemoteID: svc.RemoteID},
			)
		})
}

// updateServiceStep patches prev. The restore values are captured here, before
// the plan runs.
func (o *Operator) updateServiceStep(prev *mirror.Service, fields ServiceFields) (step, error) {
	values, err := snapshotService(prev, fields)
	if err != nil {
		return nil, err
	}

	return gatewaysync.NewStep[*mirror.Tx](stepUpdateService, "service update",
		func(ctx context.Context, sc *gatewaysync.StepContext) (result, error) {
			res := o.gw.UpdateService(ctx, prev.RemoteID, fields)
			if err := res.Err(); err != nil {
				return result{}, err
			}
			next, err := updatedService(*prev, fields, res)
			if err != nil {
				return result{}, err
			}
			return result{
				Output:   next,
				Resource: gatewaysync.KeyOf(gatewaysync.KindService, prev.ID),
				Mirror: func(ctx context.Context, tx *mirror.Tx) error {
					return tx.SaveService(ctx, next)
				},
			}, nil
		},
		func(sc *gatewaysync.StepContext) (*gatewaysync.Compensation, error) {
			return o.actions.RestoreService.For(
				gatewaysync.KeyOf(gatewaysync.KindService, prev.ID),
				RestorePayload{RemoteID: prev.RemoteID, Values: values},
			)
		}), nil
}

func (o *Operator) deleteServiceStep(svc *mirror.Service) step {
	return gatewaysync.NewStep[*mirror.Tx](stepDeleteService, "service deletion",
		func(ctx context.Context, sc *gatewaysync.StepContext) (result, error) {
			if err := gone(o.gw.DeleteService(ctx, svc.RemoteID)); err != nil {
				return result{}, err
			}
			return result{
				Output:   svc,
				Resource: gatewaysync.KeyOf(gatewaysync.KindService, svc.ID),
				Mirror: func(ctx context.Context, tx *mirror.Tx) error {
					return tx.DeleteService(ctx, svc.ID)
				},
			}, nil
		},
		func(sc *gatewaysync.StepContext) (*gatewaysync.Compensation, error) {
			comp, err := o.actions.RecreateService.For(
				gatewaysync.KeyOf(gatewaysync.KindService, svc.ID),
				RecreateServicePayload{Fields: serviceFields(svc)},
			)
			if err != nil {
				return nil, err
			}
			comp.Reattach = &gatewaysync.Reattach{Kind: gatewaysync.KindService, LocalID: svc.ID}
			return comp, nil
		})
}

func validateNewService(f ServiceFields) error {
	if deref(f.URL) == "" && deref(f.Host) == "" {
		return gatewaysync.Invalid("either url or host is required")
	}
	if f.URL != nil && f.Host != nil {
		return gatewaysync.Invalid("url and host are mutually exclusive")
	}
	return nil
}

func (o *Operator) createServicePlan(f ServiceFields) (*plan, error) {
	return newPlan(PlanCreateService, gatewaysync.OpCreate, func(b *builder) error {
		b.Require(
			unique(gatewaysync.KindService, "name", f.Name, ""),
			unique(gatewaysync.KindService, "url", f.URL, ""),
		)
		return b.Append(o.createServiceStep(f))
	})
}

func (o *Operator) updateServicePlan(svc *mirror.Service, f ServiceFields) (*plan, error) {
	return newPlan(PlanUpdateService, gatewaysync.OpUpdate, func(b *builder) error {
		b.Require(
			unique(gatewaysync.KindService, "name", f.Name, svc.ID),
			unique(gatewaysync.KindService, "url", f.URL, svc.ID),
		)
		s, err := o.updateServiceStep(svc, f)
		if err != nil {
			return err
		}
		return b.Append(s)
	})
}

// deleteServicePlan removes the routes of svc before svc itself. A failed
// service delete recreates every route already removed.
func (o *Operator) deleteServicePlan(name gatewaysync.PlanName, svc *mirror.Service, routes []mirror.Route) (*plan, error) {
	return newPlan(name, gatewaysync.OpDelete, func(b *builder) error {
		if err := b.Append(o.deleteServiceStep(svc)); err != nil {
			return err
		}
		for i := range routes {
			if err := b.Append(o.deleteRouteStep(&routes[i])); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateService creates a standalone service.
func (o *Operator) CreateService(ctx context.Context, f ServiceFields) (*mirror.Service, *gatewaysync.Execution, error) {
	if err := validateNewService(f); err != nil {
		return nil, nil, err
	}

	p, err := o.createServicePlan(f)
	if err != nil {
		return nil, nil, err
	}

	exec, err := o.orch.Execute(ctx, p)
	if err != nil {
		return nil, exec, err
	}

	svc, err := outputOf[*mirror.Service](exec, stepCreateService)
	return svc, exec, err
}

// UpdateService patches the service found by id or name.
func (o *Operator) UpdateService(ctx context.Context, ref string, f ServiceFields) (*mirror.Service, *gatewaysync.Execution, error) {
	if f.empty() {
		return nil, nil, gatewaysync.Invalid("no fields to update")
	}
	if f.URL != nil && f.Host != nil {
		return nil, nil, gatewaysync.Invalid("url and host are mutually exclusive")
	}

	svc, err := o.mirror.GetService(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	p, err := o.updateServicePlan(svc, f)
	if err != nil {
		return nil, nil, err
	}

	exec, err := o.orch.Execute(ctx, p)
	if err != nil {
		return nil, exec, err
	}

	next, err := outputOf[*mirror.Service](exec, stepUpdateService)
	return next, exec, err
}

// DeleteService deletes the service found by id or name, its routes first.
func (o *Operator) DeleteService(ctx context.Context, ref string) (*gatewaysync.Execution, error) {
	return o.deleteService(ctx, PlanDeleteService, ref)
}

func (o *Operator) deleteService(ctx context.Context, name gatewaysync.PlanName, ref string) (*gatewaysync.Execution, error) {
	svc, err := o.mirror.GetService(ctx, ref)
	if err != nil {
		return nil, err
	}

	routes, err := o.mirror.ListRoutes(ctx, svc.ID)
	if err != nil {
		return nil, err
	}

	p, err := o.deleteServicePlan(name, svc, routes)
	if err != nil {
		return nil, err
	}

	return o.orch.Execute(ctx, p)
}
