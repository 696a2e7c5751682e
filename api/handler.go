package api

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/set"
	"github.com/gofiber/fiber/v3"
)

type ErrorResponse struct {
	Error  string `json:"error"`
	PlanID string `json:"plan_id,omitempty"`
}

// PlanHeader carries the id of the plan execution behind a mutating request.
const PlanHeader = "X-Plan-ID"

// Writable fields per request.
var (
	serviceFields = set.Of("name", "url", "host", "port", "protocol", "path", "retries",
		"connect_timeout", "read_timeout", "write_timeout", "tags", "enabled")
	routeFields = set.Of("name", "paths", "path", "methods", "headers", "hosts", "protocols",
		"strip_path", "preserve_host", "regex_priority", "https_redirect_status_code",
		"path_handling", "request_buffering", "response_buffering", "tags")
	apiCreateFields    = set.Of("name", "url", "path", "headers", "methods")
	apiUpdateFields    = set.Of("name", "url", "path", "headers", "methods", "enabled")
	pluginCreateFields = set.Of("name", "config", "enabled", "instance_name", "protocols", "tags")
	pluginUpdateFields = set.Of("config", "enabled", "protocols", "tags")
)

// StatusFor maps an error onto an HTTP status code.
func StatusFor(err error) int {
	var (
		validation *gatewaysync.ValidationError
		conflict   *gatewaysync.ConflictError
		remote     *gatewaysync.RemoteStepFailed
		commit     *gatewaysync.MirrorCommitFailed
		aborted    *gatewaysync.PlanAborted
	)
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.As(err, &validation):
		return fiber.StatusBadRequest
	case errors.As(err, &conflict):
		return fiber.StatusConflict
	// A lookup that fails after remote work started is a failed plan, not a
	// missing resource.
	case errors.As(err, &remote), errors.As(err, &commit), errors.As(err, &aborted):
		return fiber.StatusInternalServerError
	case errors.Is(err, gatewaysync.ErrNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) fail(c fiber.Ctx, err error, exec *gatewaysync.Execution) error {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	if exec != nil {
		resp.PlanID = exec.ID
		c.Set(PlanHeader, exec.ID)
	}

	evt := s.log.Debug()
	if status >= fiber.StatusInternalServerError {
		evt = s.log.Error()
	}
	evt.Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", status).
		Msg("request failed")

	return c.Status(status).JSON(resp)
}

func (s *Server) done(c fiber.Ctx, status int, exec *gatewaysync.Execution, body any) error {
	if exec != nil {
		c.Set(PlanHeader, exec.ID)
	}
	if body == nil {
		return c.SendStatus(status)
	}
	return c.Status(status).JSON(body)
}

// decode unmarshals the request body into v after rejecting fields outside
// the allow-list.
func decode(c fiber.Ctx, allowed *set.Set[string], v any) error {
	body := c.Body()
	if len(body) == 0 {
		return gatewaysync.Invalid("request body is required")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return gatewaysync.Invalid("invalid request body: %v", err)
	}

	var unknown []string
	for key := range fields {
		if !allowed.Contains(key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return gatewaysync.Invalid("unknown fields: %s", strings.Join(unknown, ", "))
	}

	if err := c.Bind().JSON(v); err != nil {
		return gatewaysync.Invalid("invalid request body: %v", err)
	}
	return nil
}
