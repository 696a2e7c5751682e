package operations

import (
	"fmt"
	"sort"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/mirror"
)

func ptr[T any](v T) *T { return &v }

// shapes builds every plan against placeholder rows. The plans are only for
// inspection and must not be executed.
var shapes = map[gatewaysync.PlanName]func(o *Operator) (*plan, error){
	PlanCreateAPI: func(o *Operator) (*plan, error) {
		return o.createAPIPlan(APIFields{URL: ptr("http://upstream"), Path: ptr("/")})
	},
	PlanUpdateAPI: func(o *Operator) (*plan, error) {
		return o.updateAPIPlan(
			&API{Service: &mirror.Service{ID: "service"}, Route: &mirror.Route{ID: "route"}},
			APIFields{URL: ptr("http://upstream"), Path: ptr("/")},
		)
	},
	PlanDeleteAPI: func(o *Operator) (*plan, error) {
		return o.deleteServicePlan(PlanDeleteAPI, &mirror.Service{ID: "service"}, []mirror.Route{{ID: "route"}})
	},
	PlanCreateService: func(o *Operator) (*plan, error) {
		return o.createServicePlan(ServiceFields{URL: ptr("http://upstream")})
	},
	PlanUpdateService: func(o *Operator) (*plan, error) {
		return o.updateServicePlan(&mirror.Service{ID: "service"}, ServiceFields{Enabled: ptr(false)})
	},
	PlanDeleteService: func(o *Operator) (*plan, error) {
		return o.deleteServicePlan(PlanDeleteService, &mirror.Service{ID: "service"}, []mirror.Route{{ID: "route-1"}, {ID: "route-2"}})
	},
	PlanCreateRoute: func(o *Operator) (*plan, error) {
		return o.createRoutePlan(&mirror.Service{ID: "service"}, RouteFields{Paths: &[]string{"/"}})
	},
	PlanUpdateRoute: func(o *Operator) (*plan, error) {
		return o.updateRoutePlan(&mirror.Route{ID: "route"}, RouteFields{StripPath: ptr(true)})
	},
	PlanDeleteRoute: func(o *Operator) (*plan, error) {
		return o.deleteRoutePlan(&mirror.Route{ID: "route"})
	},
	PlanCreatePlugin: func(o *Operator) (*plan, error) {
		return o.createPluginPlan(pluginParent{Kind: gatewaysync.KindService, LocalID: "service"}, PluginFields{Name: ptr("plugin")})
	},
	PlanUpdatePlugin: func(o *Operator) (*plan, error) {
		return o.updatePluginPlan(&mirror.PluginBinding{ID: "plugin"}, PluginFields{Enabled: ptr(false)})
	},
	PlanDeletePlugin: func(o *Operator) (*plan, error) {
		return o.deletePluginPlan(&mirror.PluginBinding{ID: "plugin", ServiceID: ptr("service")})
	},
}

// PlanNames lists the plans DOT can render.
func PlanNames() []gatewaysync.PlanName {
	names := make([]gatewaysync.PlanName, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// DOT renders the step graph of a plan in Graphviz format.
func DOT(name gatewaysync.PlanName) (string, error) {
	shape, ok := shapes[name]
	if !ok {
		return "", fmt.Errorf("plan %q: %w", name, gatewaysync.ErrNotFound)
	}
	p, err := shape(&Operator{})
	if err != nil {
		return "", err
	}
	return p.DOT()
}
