package operations

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type object = map[string]any

// fakeKong is an in-memory admin API holding services, routes and plugins.
type fakeKong struct {
	*httptest.Server

	mu       sync.Mutex
	services map[string]object
	routes   map[string]object
	plugins  map[string]object
	failures map[string][]int
	calls    []string
	bodies   map[string][]object
}

func newFakeKong(t *testing.T) *fakeKong {
	t.Helper()

	k := &fakeKong{
		services: make(map[string]object),
		routes:   make(map[string]object),
		plugins:  make(map[string]object),
		failures: make(map[string][]int),
		bodies:   make(map[string][]object),
	}

	mux := http.NewServeMux()
	k.handle(mux, "POST /services", k.createService)
	k.handle(mux, "PATCH /services/{id}", k.updateService)
	k.handle(mux, "DELETE /services/{id}", k.deleteService)
	k.handle(mux, "POST /services/{id}/routes", k.createRoute)
	k.handle(mux, "PATCH /routes/{id}", k.updateRoute)
	k.handle(mux, "DELETE /routes/{id}", k.deleteRoute)
	k.handle(mux, "POST /services/{id}/plugins", k.createPlugin("service", k.services))
	k.handle(mux, "POST /routes/{id}/plugins", k.createPlugin("route", k.routes))
	k.handle(mux, "PATCH /plugins/{id}", k.updatePlugin)
	k.handle(mux, "DELETE /plugins/{id}", k.deletePlugin)

	k.Server = httptest.NewServer(mux)
	t.Cleanup(k.Close)
	return k
}

// fail makes the next calls to pattern answer with the given statuses, one
// per call.
func (k *fakeKong) fail(pattern string, statuses ...int) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.failures[pattern] = append(k.failures[pattern], statuses...)
}

func (k *fakeKong) handle(mux *http.ServeMux, pattern string, h func(w http.ResponseWriter, r *http.Request, body object)) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		var body object
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		k.mu.Lock()
		defer k.mu.Unlock()

		k.calls = append(k.calls, pattern)
		k.bodies[pattern] = append(k.bodies[pattern], body)

		if queued := k.failures[pattern]; len(queued) > 0 {
			k.failures[pattern] = queued[1:]
			writeJSON(w, queued[0], object{"message": "injected failure"})
			return
		}

		h(w, r, body)
	})
}

func (k *fakeKong) Calls() []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	return append([]string(nil), k.calls...)
}

// LastBody returns the body of the most recent call to pattern.
func (k *fakeKong) LastBody(pattern string) object {
	k.mu.Lock()
	defer k.mu.Unlock()

	bodies := k.bodies[pattern]
	if len(bodies) == 0 {
		return nil
	}
	return bodies[len(bodies)-1]
}

func (k *fakeKong) Service(id string) (object, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	svc, ok := k.services[id]
	return svc, ok
}

func (k *fakeKong) Route(id string) (object, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	route, ok := k.routes[id]
	return route, ok
}

func (k *fakeKong) Plugin(id string) (object, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	plugin, ok := k.plugins[id]
	return plugin, ok
}

// Counts returns the number of services, routes and plugins held.
func (k *fakeKong) Counts() [3]int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return [3]int{len(k.services), len(k.routes), len(k.plugins)}
}

// forget removes a service behind the synchronizer's back.
func (k *fakeKong) forget(serviceID string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	delete(k.services, serviceID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, object{"message": "Not found"})
}

func stamp(obj object) {
	now := time.Now().Unix()
	if _, ok := obj["created_at"]; !ok {
		obj["created_at"] = now
	}
	obj["updated_at"] = now
}

func merge(obj, body object) {
	for k, v := range body {
		obj[k] = v
	}
}

// expandURL replaces url with the fields the admin API stores instead.
func expandURL(obj object) error {
	raw, ok := obj["url"].(string)
	if !ok {
		return nil
	}
	delete(obj, "url")

	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	obj["protocol"] = u.Scheme
	obj["host"] = u.Hostname()

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}
	obj["port"] = port

	if u.Path != "" {
		obj["path"] = u.Path
	} else {
		obj["path"] = nil
	}
	return nil
}

func (k *fakeKong) nameTaken(set map[string]object, field string, value any, except string) bool {
	if value == nil {
		return false
	}
	for id, obj := range set {
		if id != except && obj[field] == value {
			return true
		}
	}
	return false
}

func conflict(w http.ResponseWriter, field string, value any) {
	writeJSON(w, http.StatusConflict, object{
		"message": fmt.Sprintf("UNIQUE violation detected on '{%s=%q}'", field, fmt.Sprint(value)),
	})
}

func (k *fakeKong) createService(w http.ResponseWriter, r *http.Request, body object) {
	if k.nameTaken(k.services, "name", body["name"], "") {
		conflict(w, "name", body["name"])
		return
	}

	svc := object{
		"id":              uuid.NewString(),
		"name":            nil,
		"protocol":        "http",
		"port":            80,
		"path":            nil,
		"retries":         5,
		"connect_timeout": 60000,
		"read_timeout":    60000,
		"write_timeout":   60000,
		"enabled":         true,
		"tags":            nil,
	}
	merge(svc, body)
	if err := expandURL(svc); err != nil {
		writeJSON(w, http.StatusBadRequest, object{"message": err.Error()})
		return
	}
	stamp(svc)
	k.services[svc["id"].(string)] = svc
	writeJSON(w, http.StatusCreated, svc)
}

func (k *fakeKong) updateService(w http.ResponseWriter, r *http.Request, body object) {
	svc, ok := k.services[r.PathValue("id")]
	if !ok {
		notFound(w)
		return
	}
	if k.nameTaken(k.services, "name", body["name"], r.PathValue("id")) {
		conflict(w, "name", body["name"])
		return
	}
	merge(svc, body)
	if err := expandURL(svc); err != nil {
		writeJSON(w, http.StatusBadRequest, object{"message": err.Error()})
		return
	}
	stamp(svc)
	writeJSON(w, http.StatusOK, svc)
}

func (k *fakeKong) deleteService(w http.ResponseWriter, r *http.Request, body object) {
	id := r.PathValue("id")
	if _, ok := k.services[id]; !ok {
		notFound(w)
		return
	}
	for _, route := range k.routes {
		if route["service"].(object)["id"] == id {
			writeJSON(w, http.StatusBadRequest, object{"message": "an existing 'routes' entity references this 'services' entity"})
			return
		}
	}
	k.dropPlugins("service", id)
	delete(k.services, id)
	writeJSON(w, http.StatusNoContent, nil)
}

func (k *fakeKong) createRoute(w http.ResponseWriter, r *http.Request, body object) {
	serviceID := r.PathValue("id")
	if _, ok := k.services[serviceID]; !ok {
		notFound(w)
		return
	}
	if k.nameTaken(k.routes, "name", body["name"], "") {
		conflict(w, "name", body["name"])
		return
	}

	route := object{
		"id":                         uuid.NewString(),
		"name":                       nil,
		"paths":                      nil,
		"methods":                    nil,
		"hosts":                      nil,
		"headers":                    nil,
		"protocols":                  []any{"http", "https"},
		"strip_path":                 true,
		"preserve_host":              false,
		"regex_priority":             0,
		"https_redirect_status_code": 426,
		"path_handling":              "v0",
		"request_buffering":          true,
		"response_buffering":         true,
		"tags":                       nil,
	}
	merge(route, body)
	route["service"] = object{"id": serviceID}
	stamp(route)
	k.routes[route["id"].(string)] = route
	writeJSON(w, http.StatusCreated, route)
}

func (k *fakeKong) updateRoute(w http.ResponseWriter, r *http.Request, body object) {
	route, ok := k.routes[r.PathValue("id")]
	if !ok {
		notFound(w)
		return
	}
	merge(route, body)
	stamp(route)
	writeJSON(w, http.StatusOK, route)
}

func (k *fakeKong) deleteRoute(w http.ResponseWriter, r *http.Request, body object) {
	id := r.PathValue("id")
	if _, ok := k.routes[id]; !ok {
		notFound(w)
		return
	}
	k.dropPlugins("route", id)
	delete(k.routes, id)
	writeJSON(w, http.StatusNoContent, nil)
}

func (k *fakeKong) dropPlugins(scope, id string) {
	for pid, plugin := range k.plugins {
		if parent, ok := plugin[scope].(object); ok && parent["id"] == id {
			delete(k.plugins, pid)
		}
	}
}

func (k *fakeKong) createPlugin(scope string, parents map[string]object) func(w http.ResponseWriter, r *http.Request, body object) {
	return func(w http.ResponseWriter, r *http.Request, body object) {
		parentID := r.PathValue("id")
		if _, ok := parents[parentID]; !ok {
			notFound(w)
			return
		}
		if k.nameTaken(k.plugins, "instance_name", body["instance_name"], "") {
			conflict(w, "instance_name", body["instance_name"])
			return
		}

		plugin := object{
			"id":            uuid.NewString(),
			"instance_name": nil,
			"config":        object{},
			"enabled":       true,
			"protocols":     []any{"grpc", "grpcs", "http", "https"},
			"service":       nil,
			"route":         nil,
			"tags":          nil,
		}
		merge(plugin, body)
		plugin[scope] = object{"id": parentID}
		stamp(plugin)
		k.plugins[plugin["id"].(string)] = plugin
		writeJSON(w, http.StatusCreated, plugin)
	}
}

func (k *fakeKong) updatePlugin(w http.ResponseWriter, r *http.Request, body object) {
	plugin, ok := k.plugins[r.PathValue("id")]
	if !ok {
		notFound(w)
		return
	}
	merge(plugin, body)
	stamp(plugin)
	writeJSON(w, http.StatusOK, plugin)
}

func (k *fakeKong) deletePlugin(w http.ResponseWriter, r *http.Request, body object) {
	id := r.PathValue("id")
	if _, ok := k.plugins[id]; !ok {
		notFound(w)
		return
	}
	delete(k.plugins, id)
	writeJSON(w, http.StatusNoContent, nil)
}
