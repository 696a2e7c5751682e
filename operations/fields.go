package operations

import (
	"encoding/json"
	"fmt"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/gateway"
	"github.com/fortressi/gatewaysync/mirror"
	"github.com/google/uuid"
)

// ServiceFields are the writable attributes of a gateway service. Nil fields
// are left out of the request.
type ServiceFields struct {
	Name           *string   `json:"name,omitempty"`
	URL            *string   `json:"url,omitempty"`
	Protocol       *string   `json:"protocol,omitempty"`
	Host           *string   `json:"host,omitempty"`
	Port           *int      `json:"port,omitempty"`
	Path           *string   `json:"path,omitempty"`
	Retries        *int      `json:"retries,omitempty"`
	ConnectTimeout *int      `json:"connect_timeout,omitempty"`
	ReadTimeout    *int      `json:"read_timeout,omitempty"`
	WriteTimeout   *int      `json:"write_timeout,omitempty"`
	Tags           *[]string `json:"tags,omitempty"`
	Enabled        *bool     `json:"enabled,omitempty"`
}

// RouteFields are the writable attributes of a gateway route.
type RouteFields struct {
	Name                    *string              `json:"name,omitempty"`
	Paths                   *[]string            `json:"paths,omitempty"`
	Methods                 *[]string            `json:"methods,omitempty"`
	Hosts                   *[]string            `json:"hosts,omitempty"`
	Protocols               *[]string            `json:"protocols,omitempty"`
	Headers                 *map[string][]string `json:"headers,omitempty"`
	StripPath               *bool                `json:"strip_path,omitempty"`
	PreserveHost            *bool                `json:"preserve_host,omitempty"`
	RegexPriority           *int                 `json:"regex_priority,omitempty"`
	HTTPSRedirectStatusCode *int                 `json:"https_redirect_status_code,omitempty"`
	PathHandling            *string              `json:"path_handling,omitempty"`
	RequestBuffering        *bool                `json:"request_buffering,omitempty"`
	ResponseBuffering       *bool                `json:"response_buffering,omitempty"`
	Tags                    *[]string            `json:"tags,omitempty"`
}

// PluginFields are the writable attributes of a plugin binding. Name and
// InstanceName are only accepted on create.
type PluginFields struct {
	Name         *string         `json:"name,omitempty"`
	InstanceName *string         `json:"instance_name,omitempty"`
	Config       *map[string]any `json:"config,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
	Protocols    *[]string       `json:"protocols,omitempty"`
	Tags         *[]string       `json:"tags,omitempty"`
}

// APIFields describe the service plus route pair behind one API.
type APIFields struct {
	Name    *string              `json:"name,omitempty"`
	URL     *string              `json:"url,omitempty"`
	Path    *string              `json:"path,omitempty"`
	Headers *map[string][]string `json:"headers,omitempty"`
	Methods *[]string            `json:"methods,omitempty"`
	Enabled *bool                `json:"enabled,omitempty"`
}

func (f APIFields) service() ServiceFields {
	return ServiceFields{Name: f.Name, URL: f.URL, Enabled: f.Enabled}
}

func (f APIFields) route() RouteFields {
	r := RouteFields{Headers: f.Headers, Methods: f.Methods}
	if f.Path != nil {
		r.Paths = &[]string{*f.Path}
	}
	return r
}

func (f ServiceFields) empty() bool { return f == ServiceFields{} }

func (f RouteFields) empty() bool { return f == RouteFields{} }

func newLocalID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func firstPath(paths *[]string) string {
	if paths == nil || len(*paths) == 0 {
		return ""
	}
	return (*paths)[0]
}

// overlay writes each JSON document onto row in order. Keys that row does not
// know are ignored, so a gateway response can be applied as is.
func overlay(row any, docs ...any) error {
	for _, doc := range docs {
		data, ok := doc.([]byte)
		if !ok {
			var err error
			if data, err = json.Marshal(doc); err != nil {
				return err
			}
		}
		if len(data) == 0 {
			continue
		}
		if err := json.Unmarshal(data, row); err != nil {
			return fmt.Errorf("failed to apply gateway object: %w", err)
		}
	}
	return nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// snapshot returns the current value of every key an update touches, read
// from the mirror row. Keys the row holds as null are restored as null.
func snapshot(row, update any) (map[string]any, error) {
	touched, err := toMap(update)
	if err != nil {
		return nil, gatewaysync.SerializeFailed(err)
	}
	current, err := toMap(row)
	if err != nil {
		return nil, gatewaysync.SerializeFailed(err)
	}

	values := make(map[string]any, len(touched))
	for key := range touched {
		values[key] = current[key]
	}
	return values, nil
}

// snapshotService is snapshot for services. The gateway does not keep url as
// a field, so a touched url is restored through the fields it expands to.
func snapshotService(row *mirror.Service, update ServiceFields) (map[string]any, error) {
	values, err := snapshot(row, update)
	if err != nil {
		return nil, err
	}
	if _, ok := values["url"]; ok {
		delete(values, "url")
		values["protocol"] = row.Protocol
		values["host"] = row.Host
		values["port"] = row.Port
		values["path"] = row.Path
	}
	return values, nil
}

func newService(fields ServiceFields, res gateway.Result) (*mirror.Service, error) {
	obj, err := res.Object()
	if err != nil {
		return nil, err
	}

	svc := &mirror.Service{Enabled: true}
	if err := overlay(svc, fields, res.Body); err != nil {
		return nil, err
	}
	svc.ID = newLocalID()
	svc.RemoteID = obj.ID
	svc.URL = fields.URL
	svc.Lifecycle = gatewaysync.LifecycleMirrorCommitted
	return svc, nil
}

func updatedService(prev mirror.Service, fields ServiceFields, res gateway.Result) (*mirror.Service, error) {
	next := prev
	if err := overlay(&next, fields, res.Body); err != nil {
		return nil, err
	}
	next.ID, next.RemoteID = prev.ID, prev.RemoteID
	next.Lifecycle = gatewaysync.LifecycleMirrorCommitted
	if fields.URL != nil {
		next.URL = fields.URL
	} else if fields.Protocol != nil || fields.Host != nil || fields.Port != nil || fields.Path != nil {
		next.URL = nil
	}
	return &next, nil
}

// serviceFields is the configuration needed to recreate a service.
func serviceFields(svc *mirror.Service) ServiceFields {
	tags := []string(svc.Tags)
	f := ServiceFields{
		Name:           svc.Name,
		Retries:        &svc.Retries,
		ConnectTimeout: &svc.ConnectTimeout,
		ReadTimeout:    &svc.ReadTimeout,
		WriteTimeout:   &svc.WriteTimeout,
		Enabled:        &svc.Enabled,
		Tags:           &tags,
	}
	if svc.URL != nil {
		f.URL = svc.URL
	} else {
		f.Protocol, f.Host, f.Port, f.Path = &svc.Protocol, &svc.Host, &svc.Port, svc.Path
	}
	return f
}

func newRoute(serviceID string, fields RouteFields, res gateway.Result) (*mirror.Route, error) {
	obj, err := res.Object()
	if err != nil {
		return nil, err
	}

	route := &mirror.Route{}
	if err := overlay(route, fields, res.Body); err != nil {
		return nil, err
	}
	route.ID = newLocalID()
	route.RemoteID = obj.ID
	route.ServiceID = serviceID
	route.Path = primaryPath(route)
	route.Lifecycle = gatewaysync.LifecycleMirrorCommitted
	return route, nil
}

func updatedRoute(prev mirror.Route, fields RouteFields, res gateway.Result) (*mirror.Route, error) {
	next := prev
	if err := overlay(&next, fields, res.Body); err != nil {
		return nil, err
	}
	next.ID, next.RemoteID, next.ServiceID = prev.ID, prev.RemoteID, prev.ServiceID
	next.Path = primaryPath(&next)
	next.Lifecycle = gatewaysync.LifecycleMirrorCommitted
	return &next, nil
}

func primaryPath(route *mirror.Route) *string {
	if len(route.Paths) == 0 {
		return nil
	}
	p := route.Paths[0]
	return &p
}

// routeFields is the configuration needed to recreate a route.
func routeFields(route *mirror.Route) RouteFields {
	f := RouteFields{
		Name:              route.Name,
		StripPath:         &route.StripPath,
		PreserveHost:      &route.PreserveHost,
		RegexPriority:     &route.RegexPriority,
		RequestBuffering:  &route.RequestBuffering,
		ResponseBuffering: &route.ResponseBuffering,
	}
	if len(route.Paths) > 0 {
		paths := []string(route.Paths)
		f.Paths = &paths
	}
	if len(route.Methods) > 0 {
		methods := []string(route.Methods)
		f.Methods = &methods
	}
	if len(route.Hosts) > 0 {
		hosts := []string(route.Hosts)
		f.Hosts = &hosts
	}
	if len(route.Protocols) > 0 {
		protocols := []string(route.Protocols)
		f.Protocols = &protocols
	}
	if headers := route.Headers.Data(); len(headers) > 0 {
		f.Headers = &headers
	}
	if len(route.Tags) > 0 {
		tags := []string(route.Tags)
		f.Tags = &tags
	}
	if route.HTTPSRedirectStatusCode != 0 {
		f.HTTPSRedirectStatusCode = &route.HTTPSRedirectStatusCode
	}
	if route.PathHandling != "" {
		f.PathHandling = &route.PathHandling
	}
	return f
}

func newBinding(scope gateway.Scope, parentLocalID string, fields PluginFields, res gateway.Result) (*mirror.PluginBinding, error) {
	obj, err := res.Object()
	if err != nil {
		return nil, err
	}

	binding := &mirror.PluginBinding{Enabled: true}
	if err := overlay(binding, fields, res.Body); err != nil {
		return nil, err
	}
	binding.ID = newLocalID()
	binding.RemoteID = obj.ID
	if binding.Name == "" {
		binding.Name = deref(fields.Name)
	}
	switch scope.Kind {
	case gatewaysync.KindRoute:
		binding.RouteID = &parentLocalID
	default:
		binding.ServiceID = &parentLocalID
	}
	binding.Lifecycle = gatewaysync.LifecycleMirrorCommitted
	return binding, nil
}

func updatedBinding(prev mirror.PluginBinding, fields PluginFields, res gateway.Result) (*mirror.PluginBinding, error) {
	next := prev
	if err := overlay(&next, fields, res.Body); err != nil {
		return nil, err
	}
	next.ID, next.RemoteID, next.CatalogID = prev.ID, prev.RemoteID, prev.CatalogID
	next.ServiceID, next.RouteID, next.Name = prev.ServiceID, prev.RouteID, prev.Name
	next.Lifecycle = gatewaysync.LifecycleMirrorCommitted
	return &next, nil
}

// pluginFields is the configuration needed to recreate a plugin binding.
func pluginFields(binding *mirror.PluginBinding) PluginFields {
	name := binding.Name
	config := map[string]any(binding.Config)
	f := PluginFields{
		Name:         &name,
		InstanceName: binding.InstanceName,
		Config:       &config,
		Enabled:      &binding.Enabled,
	}
	if len(binding.Protocols) > 0 {
		protocols := []string(binding.Protocols)
		f.Protocols = &protocols
	}
	if len(binding.Tags) > 0 {
		tags := []string(binding.Tags)
		f.Tags = &tags
	}
	return f
}
