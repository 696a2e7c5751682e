package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/gateway"
	"github.com/fortressi/gatewaysync/mirror"
	"github.com/fortressi/gatewaysync/operations"
	"github.com/fortressi/gatewaysync/reaper"
	"github.com/fortressi/gatewaysync/retry"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatewayStub answers every admin call with a fresh object unless a status
// has been queued for the operation and collection, e.g. "create routes".
type gatewayStub struct {
	mu     sync.Mutex
	queued map[string]int
	calls  []string
}

func (g *gatewayStub) fail(op, collection string, status int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queued[op+" "+collection] = status
}

func (g *gatewayStub) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]string(nil), g.calls...)
}

func (g *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	call := r.Method + " " + r.URL.Path
	g.calls = append(g.calls, call)

	kind := "create"
	switch r.Method {
	case http.MethodPatch:
		kind = "update"
	case http.MethodDelete:
		kind = "delete"
	}
	last := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	if r.Method != http.MethodPost {
		last = strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")[0]
	}
	if status, ok := g.queued[kind+" "+last]; ok {
		delete(g.queued, kind+" "+last)
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, `{"message":"injected failure"}`)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		body := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["id"] = uuid.NewString()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(body)
	default:
		body := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["id"] = strings.TrimPrefix(r.URL.Path[strings.LastIndex(r.URL.Path, "/"):], "/")
		_ = json.NewEncoder(w).Encode(body)
	}
}

type testServer struct {
	app   *fiber.App
	stub  *gatewayStub
	store *mirror.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	stub := &gatewayStub{queued: make(map[string]int)}
	remote := httptest.NewServer(stub)
	t.Cleanup(remote.Close)

	db, err := mirror.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared", zerolog.Nop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, mirror.AutoMigrate(context.Background(), db))

	store := mirror.New(db)
	plans := mirror.NewPlanStore(db)
	gw := gateway.NewClient(remote.URL, 5*time.Second)

	registry := gatewaysync.NewActionRegistry()
	actions := operations.NewActions(gw, store)
	require.NoError(t, actions.Register(registry))

	scheduler := retry.NewScheduler(registry, retry.NewMemoryJobStore(), store, retry.WithSleep(func(ctx context.Context, d time.Duration) error {
		return nil
	}))
	t.Cleanup(func() {
		scheduler.Close()
		_ = sqlDB.Close()
	})

	orch := gatewaysync.NewOrchestrator[*mirror.Tx](store, registry, scheduler,
		gatewaysync.WithReaper(reaper.New(db, zerolog.Nop())),
		gatewaysync.WithStore(plans))

	app := fiber.New()
	NewServer(operations.New(gw, store, orch, actions), store, plans, zerolog.Nop()).SetupRoutes(app)

	return &testServer{app: app, stub: stub, store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeError(t *testing.T, data []byte) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAPIEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/apis", `{"name":"orders","url":"http://orders:8080","path":"/orders"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	planID := resp.Header.Get(PlanHeader)
	require.NotEmpty(t, planID)

	var api operations.API
	require.NoError(t, json.Unmarshal(body, &api))
	require.NotNil(t, api.Service)
	require.NotNil(t, api.Route)
	assert.Equal(t, "orders", *api.Service.Name)
	assert.Equal(t, api.Service.ID, api.Route.ServiceID)

	resp, body = s.do(t, http.MethodGet, "/apis/orders", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched operations.API
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, api.Route.ID, fetched.Route.ID)

	resp, body = s.do(t, http.MethodGet, "/apis", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []operations.API
	require.NoError(t, json.Unmarshal(body, &all))
	assert.Len(t, all, 1)

	resp, body = s.do(t, http.MethodGet, "/plans/"+planID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var record gatewaysync.PlanRecord
	require.NoError(t, json.Unmarshal(body, &record))
	assert.Equal(t, gatewaysync.PlanStatusCommitted, record.Status)
	assert.Len(t, record.Steps, 2)
}

func TestCreateAPIConflict(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/apis", `{"name":"orders","url":"http://orders:8080","path":"/orders"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	calls := len(s.stub.Calls())

	resp, body := s.do(t, http.MethodPost, "/apis", `{"name":"orders","url":"http://other:8080","path":"/other"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	errResp := decodeError(t, body)
	assert.Equal(t, `service with name "orders" already exists`, errResp.Error)
	assert.NotEmpty(t, errResp.PlanID)
	assert.Equal(t, errResp.PlanID, resp.Header.Get(PlanHeader))
	assert.Len(t, s.stub.Calls(), calls, "no remote call after a rejected plan")
}

func TestCreateAPIRouteFailure(t *testing.T) {
	s := newTestServer(t)
	s.stub.fail("create", "routes", http.StatusInternalServerError)

	resp, body := s.do(t, http.MethodPost, "/apis", `{"name":"orders","url":"http://orders:8080","path":"/orders"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	errResp := decodeError(t, body)
	assert.Contains(t, errResp.Error, "failed")
	assert.NotEmpty(t, errResp.PlanID)

	calls := s.stub.Calls()
	require.Len(t, calls, 3)
	assert.True(t, strings.HasPrefix(calls[2], "DELETE /services/"), calls[2])

	services, err := s.store.ListServices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, services)
}

func TestRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/services", `{"name":"orders","zeta":1,"alpha":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unknown fields: alpha, zeta", decodeError(t, body).Error)
	assert.Empty(t, s.stub.Calls())
}

func TestRejectsBadBodies(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   string
	}{
		{"empty", http.MethodPost, "/services", "", "request body is required"},
		{"malformed", http.MethodPost, "/services", `{"name":`, "invalid request body"},
		{"wrong type", http.MethodPost, "/services", `{"retries":"many"}`, "invalid request body"},
		{"missing url", http.MethodPost, "/apis", `{"name":"orders","path":"/orders"}`, "url is required"},
		{"plugin key on update", http.MethodPatch, "/plugins/any", `{"name":"cors"}`, "unknown fields: name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, decodeError(t, body).Error, tt.want)
		})
	}
}

func TestCreateServiceBindsBody(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/services", `{"name":"orders","url":"http://orders:8080","retries":3,"tags":["team-a","edge"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var svc mirror.Service
	require.NoError(t, json.Unmarshal(body, &svc))
	assert.Equal(t, "orders", *svc.Name)
	assert.Equal(t, 3, svc.Retries)
	assert.Equal(t, []string{"team-a", "edge"}, []string(svc.Tags))

	stored, err := s.store.GetService(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Retries)
}

func TestRoutePathShorthand(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/services", `{"name":"orders","url":"http://orders:8080"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = s.do(t, http.MethodPost, "/services/orders/routes", `{"path":"/a","paths":["/b"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "path and paths are mutually exclusive", decodeError(t, body).Error)

	resp, body = s.do(t, http.MethodPost, "/services/orders/routes", `{"name":"orders-v1","path":"/orders"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var route mirror.Route
	require.NoError(t, json.Unmarshal(body, &route))
	assert.Equal(t, []string{"/orders"}, []string(route.Paths))

	resp, body = s.do(t, http.MethodGet, "/services/orders/routes", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var routes []mirror.Route
	require.NoError(t, json.Unmarshal(body, &routes))
	assert.Len(t, routes, 1)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/services/missing", ""},
		{http.MethodGet, "/routes/missing", ""},
		{http.MethodGet, "/plugins/missing", ""},
		{http.MethodGet, "/apis/missing", ""},
		{http.MethodGet, "/plans/missing", ""},
		{http.MethodGet, "/services/missing/plugins", ""},
		{http.MethodPatch, "/services/missing", `{"retries":3}`},
		{http.MethodDelete, "/routes/missing", ""},
		{http.MethodPost, "/routes/missing/plugins", `{"name":"cors"}`},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, _ := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}
	assert.Empty(t, s.stub.Calls())
}

func TestDeleteServiceEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/apis", `{"name":"orders","url":"http://orders:8080","path":"/orders"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, _ = s.do(t, http.MethodDelete, "/services/orders", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(PlanHeader))

	resp, _ = s.do(t, http.MethodGet, "/services/orders", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", gatewaysync.Invalid("name is required"), http.StatusBadRequest},
		{"conflict", &gatewaysync.ConflictError{Key: gatewaysync.UniqueKey{Kind: gatewaysync.KindService, Field: "name", Value: "orders"}}, http.StatusConflict},
		{"not found", fmt.Errorf("service %q: %w", "orders", gatewaysync.ErrNotFound), http.StatusNotFound},
		{"remote step", &gatewaysync.RemoteStepFailed{Step: "create_route", Cause: &gatewaysync.RemoteSemanticError{Status: 400}}, http.StatusInternalServerError},
		{"commit", &gatewaysync.MirrorCommitFailed{Cause: errors.New("disk full")}, http.StatusInternalServerError},
		{"commit missing row", &gatewaysync.MirrorCommitFailed{Cause: fmt.Errorf("route %q: %w", "r-1", gatewaysync.ErrNotFound)}, http.StatusInternalServerError},
		{"remote step missing parent", &gatewaysync.RemoteStepFailed{Step: "create_route", Cause: fmt.Errorf("service %q: %w", "s-1", gatewaysync.ErrNotFound)}, http.StatusInternalServerError},
		{"aborted missing row", &gatewaysync.PlanAborted{Cause: &gatewaysync.MirrorCommitFailed{Cause: gatewaysync.ErrNotFound}, Compensations: []error{errors.New("dispatch failed")}}, http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}
