// Package gateway is the adapter to the gateway's admin API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/observability"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every call.
const DefaultTimeout = 300 * time.Second

// Scope is the resource a plugin is bound to.
type Scope struct {
	Kind gatewaysync.ResourceKind
	ID   string
}

func (s Scope) path() string {
	switch s.Kind {
	case gatewaysync.KindRoute:
		return "/routes/" + url.PathEscape(s.ID) + "/plugins"
	default:
		return "/services/" + url.PathEscape(s.ID) + "/plugins"
	}
}

// Client issues single calls against the admin API. It holds no state beyond
// its configuration.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for the admin API at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateService posts a new service.
func (c *Client) CreateService(ctx context.Context, body any) Result {
	return c.create(ctx, gatewaysync.KindService, "/services", body)
}

// UpdateService patches a service.
func (c *Client) UpdateService(ctx context.Context, id string, body any) Result {
	return c.update(ctx, gatewaysync.KindService, "/services/"+url.PathEscape(id), body)
}

// DeleteService deletes a service.
func (c *Client) DeleteService(ctx context.Context, id string) Result {
	return c.delete(ctx, gatewaysync.KindService, "/services/"+url.PathEscape(id))
}

// CreateRoute posts a route under a service.
func (c *Client) CreateRoute(ctx context.Context, serviceID string, body any) Result {
	return c.create(ctx, gatewaysync.KindRoute, "/services/"+url.PathEscape(serviceID)+"/routes", body)
}

// UpdateRoute patches a route.
func (c *Client) UpdateRoute(ctx context.Context, id string, body any) Result {
	return c.update(ctx, gatewaysync.KindRoute, "/routes/"+url.PathEscape(id), body)
}

// DeleteRoute deletes a route.
func (c *Client) DeleteRoute(ctx context.Context, id string) Result {
	return c.delete(ctx, gatewaysync.KindRoute, "/routes/"+url.PathEscape(id))
}

// CreatePlugin binds a plugin to a service or route.
func (c *Client) CreatePlugin(ctx context.Context, scope Scope, body any) Result {
	return c.create(ctx, gatewaysync.KindPlugin, scope.path(), body)
}

// UpdatePlugin patches a plugin binding.
func (c *Client) UpdatePlugin(ctx context.Context, id string, body any) Result {
	return c.update(ctx, gatewaysync.KindPlugin, "/plugins/"+url.PathEscape(id), body)
}

// DeletePlugin removes a plugin binding.
func (c *Client) DeletePlugin(ctx context.Context, id string) Result {
	return c.delete(ctx, gatewaysync.KindPlugin, "/plugins/"+url.PathEscape(id))
}

func (c *Client) create(ctx context.Context, kind gatewaysync.ResourceKind, path string, body any) Result {
	return c.do(ctx, kind, "create", http.MethodPost, path, body, http.StatusCreated)
}

func (c *Client) update(ctx context.Context, kind gatewaysync.ResourceKind, path string, body any) Result {
	return c.do(ctx, kind, "update", http.MethodPatch, path, body, http.StatusOK)
}

func (c *Client) delete(ctx context.Context, kind gatewaysync.ResourceKind, path string) Result {
	return c.do(ctx, kind, "delete", http.MethodDelete, path, nil, http.StatusNoContent)
}

func (c *Client) do(ctx context.Context, kind gatewaysync.ResourceKind, op, method, path string, body any, expect int) Result {
	start := time.Now()
	result := c.roundTrip(ctx, method, path, body, expect)
	observability.RecordRemoteCall(string(kind), op, result.Outcome.String(), result.Status, time.Since(start))

	evt := c.log.Debug()
	if !result.OK() {
		evt = c.log.Warn().Err(result.Err())
	}
	evt.Str("method", method).
		Str("path", path).
		Int("status", result.Status).
		Dur("took", time.Since(start)).
		Msg("gateway call")

	return result
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any, expect int) Result {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Result{Outcome: TransportFailure, Cause: fmt.Errorf("failed to marshal request: %w", err)}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return Result{Outcome: TransportFailure, Cause: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Outcome: TransportFailure, Cause: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Outcome: TransportFailure, Status: resp.StatusCode, Cause: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != expect {
		return Result{Outcome: SemanticFailure, Status: resp.StatusCode, Body: data}
	}
	return Result{Outcome: Success, Status: resp.StatusCode, Body: data}
}
