package operations

import (
	"context"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/gateway"
	"github.com/fortressi/gatewaysync/mirror"
)

// pluginParent is the mirrored resource a binding hangs off.
type pluginParent struct {
	Kind     gatewaysync.ResourceKind
	LocalID  string
	RemoteID string
}

func (p pluginParent) scope() gateway.Scope {
	return gateway.Scope{Kind: p.Kind, ID: p.RemoteID}
}

func (o *Operator) createPluginStep(parent pluginParent, fields PluginFields) step {
	return gatewaysync.NewStep[*mirror.Tx](stepCreatePlugin, "plugin creation",
		func(ctx context.Context, sc *gatewaysync.StepContext) (result, error) {
			res := o.gw.CreatePlugin(ctx, parent.scope(), fields)
			if err := res.Err(); err != nil {
				return result{}, err
			}
			binding, err := newBinding(parent.scope(), parent.LocalID, fields, res)
			if err != nil {
				return result{}, err
			}
			return result{
				Output:   binding,
				Resource: gatewaysync.KeyOf(gatewaysync.KindPlugin, binding.RemoteID),
				Mirror: func(ctx context.Context, tx *mirror.Tx) error {
					return tx.CreateBinding(ctx, binding)
				},
			}, nil
		},
		func(sc *gatewaysync.StepContext) (*gatewaysync.Compensation, error) {
			binding, ok := gatewaysync.LookupTyped[*mirror.PluginBinding](sc, stepCreatePlugin)
			if !ok {
				return nil, missingOutput(stepCreatePlugin)
			}
			return o.actions.DeletePlugin.For(
				gatewaysync.KeyOf(gatewaysync.KindPlugin, binding.RemoteID),
				DeletePayload{RemoteID: binding.RemoteID},
			)
		})
}

func (o *Operator) updatePluginStep(prev *mirror.PluginBinding, fields PluginFields) (step, error) {
	values, err := snapshot(prev, fields)
	if err != nil {
		return nil, err
	}

	return gatewaysync.NewStep[*mirror.Tx](stepUpdatePlugin, "plugin update",
		func(ctx context.Context, sc *gatewaysync.StepContext) (result, error) {
			res := o.gw.UpdatePlugin(ctx, prev.RemoteID, fields)
			if err := res.Err(); err != nil {
				return result{}, err
			}
			next, err := updatedBinding(*prev, fields, res)
			if err != nil {
				return result{}, err
			}
			return result{
				Output:   next,
				Resource: gatewaysync.KeyOf(gatewaysync.KindPlugin, prev.ID),
				Mirror: func(ctx context.Context, tx *mirror.Tx) error {
					return tx.SaveBinding(ctx, next)
				},
			}, nil
		},
		func(sc *gatewaysync.StepContext) (*gatewaysync.Compensation, error) {
			return o.actions.RestorePlugin.For(
				gatewaysync.KeyOf(gatewaysync.KindPlugin, prev.ID),
				RestorePayload{RemoteID: prev.RemoteID, Values: values},
			)
		}), nil
}

func (o *Operator) deletePluginStep(binding *mirror.PluginBinding) step {
	return gatewaysync.NewStep[*mirror.Tx](stepDeletePlugin, "plugin deletion",
		func(ctx context.Context, sc *gatewaysync.StepContext) (result, error) {
			if err := gone(o.gw.DeletePlugin(ctx, binding.RemoteID)); err != nil {
				return result{}, err
			}
			return result{
				Output:   binding,
				Resource: gatewaysync.KeyOf(gatewaysync.KindPlugin, binding.ID),
				Mirror: func(ctx context.Context, tx *mirror.Tx) error {
					return tx.DeleteBinding(ctx, binding.ID)
				},
			}, nil
		},
		func(sc *gatewaysync.StepContext) (*gatewaysync.Compensation, error) {
			payload := RecreatePluginPayload{Fields: pluginFields(binding)}
			if binding.RouteID != nil {
				payload.ParentKind, payload.ParentID = gatewaysync.KindRoute, *binding.RouteID
			} else {
				payload.ParentKind, payload.ParentID = gatewaysync.KindService, deref(binding.ServiceID)
			}
			comp, err := o.actions.RecreatePlugin.For(gatewaysync.KeyOf(gatewaysync.KindPlugin, binding.ID), payload)
			if err != nil {
				return nil, err
			}
			comp.Reattach = &gatewaysync.Reattach{Kind: gatewaysync.KindPlugin, LocalID: binding.ID}
			return comp, nil
		})
}

func (o *Operator) createPluginPlan(parent pluginParent, f PluginFields) (*plan, error) {
	return newPlan(PlanCreatePlugin, gatewaysync.OpCreate, func(b *builder) error {
		b.Require(unique(gatewaysync.KindPlugin, "instance_name", f.InstanceName, ""))
		return b.Append(o.createPluginStep(parent, f))
	})
}

func (o *Operator) updatePluginPlan(binding *mirror.PluginBinding, f PluginFields) (*plan, error) {
	return newPlan(PlanUpdatePlugin, gatewaysync.OpUpdate, func(b *builder) error {
		s, err := o.updatePluginStep(binding, f)
		if err != nil {
			return err
		}
		return b.Append(s)
	})
}

func (o *Operator) deletePluginPlan(binding *mirror.PluginBinding) (*plan, error) {
	return newPlan(PlanDeletePlugin, gatewaysync.OpDelete, func(b *builder) error {
		return b.Append(o.deletePluginStep(binding))
	})
}

func (o *Operator) resolveParent(ctx context.Context, kind gatewaysync.ResourceKind, ref string) (pluginParent, error) {
	switch kind {
	case gatewaysync.KindService:
		svc, err := o.mirror.GetService(ctx, ref)
		if err != nil {
			return pluginParent{}, err
		}
		return pluginParent{Kind: kind, LocalID: svc.ID, RemoteID: svc.RemoteID}, nil
	case gatewaysync.KindRoute:
		route, err := o.mirror.GetRoute(ctx, ref)
		if err != nil {
			return pluginParent{}, err
		}
		return pluginParent{Kind: kind, LocalID: route.ID, RemoteID: route.RemoteID}, nil
	default:
		return pluginParent{}, gatewaysync.Invalid("plugins cannot be bound to %q", kind)
	}
}

// CreatePlugin binds a plugin to the service or route found by id or name.
func (o *Operator) CreatePlugin(ctx context.Context, parentKind gatewaysync.ResourceKind, parentRef string, f PluginFields) (*mirror.PluginBinding, *gatewaysync.Execution, error) {
	if deref(f.Name) == "" {
		return nil, nil, gatewaysync.Invalid("name is required")
	}

	parent, err := o.resolveParent(ctx, parentKind, parentRef)
	if err != nil {
		return nil, nil, err
	}

	p, err := o.createPluginPlan(parent, f)
	if err != nil {
		return nil, nil, err
	}

	exec, err := o.orch.Execute(ctx, p)
	if err != nil {
		return nil, exec, err
	}

	binding, err := outputOf[*mirror.PluginBinding](exec, stepCreatePlugin)
	return binding, exec, err
}

// UpdatePlugin patches the binding found by id or instance name.
func (o *Operator) UpdatePlugin(ctx context.Context, ref string, f PluginFields) (*mirror.PluginBinding, *gatewaysync.Execution, error) {
	if f.Name != nil || f.InstanceName != nil {
		return nil, nil, gatewaysync.Invalid("name and instance_name cannot be changed")
	}
	if f == (PluginFields{}) {
		return nil, nil, gatewaysync.Invalid("no fields to update")
	}

	binding, err := o.mirror.GetBinding(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	p, err := o.updatePluginPlan(binding, f)
	if err != nil {
		return nil, nil, err
	}

	exec, err := o.orch.Execute(ctx, p)
	if err != nil {
		return nil, exec, err
	}

	next, err := outputOf[*mirror.PluginBinding](exec, stepUpdatePlugin)
	return next, exec, err
}

// DeletePlugin removes the binding found by id or instance name. A catalog
// entry left without bindings is reaped after the commit.
func (o *Operator) DeletePlugin(ctx context.Context, ref string) (*gatewaysync.Execution, error) {
	binding, err := o.mirror.GetBinding(ctx, ref)
	if err != nil {
		return nil, err
	}

	p, err := o.deletePluginPlan(binding)
	if err != nil {
		return nil, err
	}

	return o.orch.Execute(ctx, p)
}
