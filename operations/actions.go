package operations

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/gateway"
	"github.com/fortressi/gatewaysync/mirror"
	"github.com/rs/zerolog"
)

// Compensation action names.
const (
	ActionDeleteService   gatewaysync.ActionName = "delete_service"
	ActionDeleteRoute     gatewaysync.ActionName = "delete_route"
	ActionDeletePlugin    gatewaysync.ActionName = "delete_plugin"
	ActionRestoreService  gatewaysync.ActionName = "restore_service"
	ActionRestoreRoute    gatewaysync.ActionName = "restore_route"
	ActionRestorePlugin   gatewaysync.ActionName = "restore_plugin"
	ActionRecreateService gatewaysync.ActionName = "recreate_service"
	ActionRecreateRoute   gatewaysync.ActionName = "recreate_route"
	ActionRecreatePlugin  gatewaysync.ActionName = "recreate_plugin"
)

// DeletePayload removes a remote object by id.
type DeletePayload struct {
	RemoteID string `json:"remote_id"`
}

// RestorePayload patches a remote object back to the values it had before an
// update. Nil values are sent as null.
type RestorePayload struct {
	RemoteID string         `json:"remote_id"`
	Values   map[string]any `json:"values"`
}

// RecreateServicePayload recreates a deleted service.
type RecreateServicePayload struct {
	Fields ServiceFields `json:"fields"`
}

// RecreateRoutePayload recreates a deleted route under the service whose
// mirror row is ServiceID. The service's remote id is resolved when the
// action runs, so a service recreated earlier in the same unwind is found.
// The plugins bound to the mirror row RouteID are recreated on the new route.
type RecreateRoutePayload struct {
	ServiceID string      `json:"service_id"`
	RouteID   string      `json:"route_id,omitempty"`
	Fields    RouteFields `json:"fields"`
}

// RecreatePluginPayload recreates a deleted plugin binding on its parent.
type RecreatePluginPayload struct {
	ParentKind gatewaysync.ResourceKind `json:"parent_kind"`
	ParentID   string                   `json:"parent_id"`
	Fields     PluginFields             `json:"fields"`
}

// MirrorView is the part of the mirror the actions read and repair.
type MirrorView interface {
	GetService(ctx context.Context, ref string) (*mirror.Service, error)
	GetRoute(ctx context.Context, ref string) (*mirror.Route, error)
	ListBindings(ctx context.Context, filter mirror.BindingFilter) ([]mirror.PluginBinding, error)
	ReattachRemoteID(ctx context.Context, target gatewaysync.Reattach, remoteID string) error
	Transaction(ctx context.Context, fn func(tx *mirror.Tx) error) error
}

// Actions holds the typed compensation actions used by the plans.
type Actions struct {
	DeleteService   *gatewaysync.CompensationFunc[DeletePayload]
	DeleteRoute     *gatewaysync.CompensationFunc[DeletePayload]
	DeletePlugin    *gatewaysync.CompensationFunc[DeletePayload]
	RestoreService  *gatewaysync.CompensationFunc[RestorePayload]
	RestoreRoute    *gatewaysync.CompensationFunc[RestorePayload]
	RestorePlugin   *gatewaysync.CompensationFunc[RestorePayload]
	RecreateService *gatewaysync.CompensationFunc[RecreateServicePayload]
	RecreateRoute   *gatewaysync.CompensationFunc[RecreateRoutePayload]
	RecreatePlugin  *gatewaysync.CompensationFunc[RecreatePluginPayload]

	log zerolog.Logger
}

type ActionOption func(*Actions)

func WithActionLogger(l zerolog.Logger) ActionOption {
	return func(a *Actions) { a.log = l }
}

// NewActions builds the actions against a gateway client and the mirror.
func NewActions(gw *gateway.Client, view MirrorView, opts ...ActionOption) *Actions {
	a := &Actions{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}

	a.build(gw, view)
	return a
}

func (a *Actions) build(gw *gateway.Client, view MirrorView) {
	*a = Actions{
		log: a.log,
		DeleteService: gatewaysync.NewCompensation(ActionDeleteService, func(ctx context.Context, p DeletePayload) (gatewaysync.CompensationResult, error) {
			return gatewaysync.CompensationResult{}, gone(gw.DeleteService(ctx, p.RemoteID))
		}),
		DeleteRoute: gatewaysync.NewCompensation(ActionDeleteRoute, func(ctx context.Context, p DeletePayload) (gatewaysync.CompensationResult, error) {
			return gatewaysync.CompensationResult{}, gone(gw.DeleteRoute(ctx, p.RemoteID))
		}),
		DeletePlugin: gatewaysync.NewCompensation(ActionDeletePlugin, func(ctx context.Context, p DeletePayload) (gatewaysync.CompensationResult, error) {
			return gatewaysync.CompensationResult{}, gone(gw.DeletePlugin(ctx, p.RemoteID))
		}),
		RestoreService: gatewaysync.NewCompensation(ActionRestoreService, func(ctx context.Context, p RestorePayload) (gatewaysync.CompensationResult, error) {
			return gatewaysync.CompensationResult{}, gw.UpdateService(ctx, p.RemoteID, p.Values).Err()
		}),
		RestoreRoute: gatewaysync.NewCompensation(ActionRestoreRoute, func(ctx context.Context, p RestorePayload) (gatewaysync.CompensationResult, error) {
			return gatewaysync.CompensationResult{}, gw.UpdateRoute(ctx, p.RemoteID, p.Values).Err()
		}),
		RestorePlugin: gatewaysync.NewCompensation(ActionRestorePlugin, func(ctx context.Context, p RestorePayload) (gatewaysync.CompensationResult, error) {
			return gatewaysync.CompensationResult{}, gw.UpdatePlugin(ctx, p.RemoteID, p.Values).Err()
		}),
		RecreateService: gatewaysync.NewCompensation(ActionRecreateService, func(ctx context.Context, p RecreateServicePayload) (gatewaysync.CompensationResult, error) {
			return recreated(gw.CreateService(ctx, p.Fields))
		}),
		RecreateRoute: gatewaysync.NewCompensation(ActionRecreateRoute, func(ctx context.Context, p RecreateRoutePayload) (gatewaysync.CompensationResult, error) {
			svc, err := view.GetService(ctx, p.ServiceID)
			if err != nil {
				return gatewaysync.CompensationResult{}, err
			}

			var bindings []mirror.PluginBinding
			if p.RouteID != "" {
				bindings, err = view.ListBindings(ctx, mirror.BindingFilter{RouteID: p.RouteID})
				if err != nil {
					return gatewaysync.CompensationResult{}, err
				}
			}

			res, err := recreated(gw.CreateRoute(ctx, svc.RemoteID, p.Fields))
			if err != nil {
				return res, err
			}

			// The route exists again. Plugin failures are logged, never returned.
			a.rebind(ctx, gw, view, res.RemoteID, bindings)
			return res, nil
		}),
		RecreatePlugin: gatewaysync.NewCompensation(ActionRecreatePlugin, func(ctx context.Context, p RecreatePluginPayload) (gatewaysync.CompensationResult, error) {
			scope, err := resolveScope(ctx, view, p.ParentKind, p.ParentID)
			if err != nil {
				return gatewaysync.CompensationResult{}, err
			}
			return recreated(gw.CreatePlugin(ctx, scope, p.Fields))
		}),
	}
}

// rebind recreates the plugins the deleted route carried on its replacement
// and points each binding row at its new plugin. A binding that cannot be
// recreated loses its row.
func (a *Actions) rebind(ctx context.Context, gw *gateway.Client, view MirrorView, routeRemoteID string, bindings []mirror.PluginBinding) {
	scope := gateway.Scope{Kind: gatewaysync.KindRoute, ID: routeRemoteID}
	for i := range bindings {
		b := &bindings[i]
		log := a.log.With().Str("binding", b.ID).Str("plugin", b.Name).Logger()

		res, err := recreated(gw.CreatePlugin(ctx, scope, pluginFields(b)))
		if err == nil {
			err = view.ReattachRemoteID(ctx, gatewaysync.Reattach{Kind: gatewaysync.KindPlugin, LocalID: b.ID}, res.RemoteID)
			if err == nil {
				continue
			}
		}

		log.Warn().Err(err).Msg("failed to restore plugin on recreated route, dropping binding")
		err = view.Transaction(ctx, func(tx *mirror.Tx) error {
			return tx.DeleteBinding(ctx, b.ID)
		})
		if err != nil && !errors.Is(err, gatewaysync.ErrNotFound) {
			log.Error().Err(err).Msg("failed to drop binding")
		}
	}
}

// Register adds every action to the registry.
func (a *Actions) Register(registry *gatewaysync.ActionRegistry) error {
	for _, action := range []gatewaysync.CompensationAction{
		a.DeleteService,
		a.DeleteRoute,
		a.DeletePlugin,
		a.RestoreService,
		a.RestoreRoute,
		a.RestorePlugin,
		a.RecreateService,
		a.RecreateRoute,
		a.RecreatePlugin,
	} {
		if err := registry.Register(action); err != nil {
			return err
		}
	}
	return nil
}

// gone treats a 404 as a completed delete.
func gone(res gateway.Result) error {
	if res.Outcome == gateway.SemanticFailure && res.Status == http.StatusNotFound {
		return nil
	}
	return res.Err()
}

func recreated(res gateway.Result) (gatewaysync.CompensationResult, error) {
	if err := res.Err(); err != nil {
		return gatewaysync.CompensationResult{}, err
	}
	obj, err := res.Object()
	if err != nil {
		return gatewaysync.CompensationResult{}, fmt.Errorf("recreated object: %w", err)
	}
	return gatewaysync.CompensationResult{RemoteID: obj.ID}, nil
}

func resolveScope(ctx context.Context, view MirrorView, kind gatewaysync.ResourceKind, ref string) (gateway.Scope, error) {
	switch kind {
	case gatewaysync.KindRoute:
		route, err := view.GetRoute(ctx, ref)
		if err != nil {
			return gateway.Scope{}, err
		}
		return gateway.Scope{Kind: gatewaysync.KindRoute, ID: route.RemoteID}, nil
	case gatewaysync.KindService:
		svc, err := view.GetService(ctx, ref)
		if err != nil {
			return gateway.Scope{}, err
		}
		return gateway.Scope{Kind: gatewaysync.KindService, ID: svc.RemoteID}, nil
	default:
		return gateway.Scope{}, gatewaysync.Invalid("plugins cannot be bound to %q", kind)
	}
}
