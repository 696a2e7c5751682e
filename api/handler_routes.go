package api

import (
	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/operations"
	"github.com/gofiber/fiber/v3"
)

// routeRequest accepts a single path as shorthand for paths.
type routeRequest struct {
	operations.RouteFields
	Path *string `json:"path,omitempty"`
}

func (r routeRequest) fields() (operations.RouteFields, error) {
	f := r.RouteFields
	if r.Path != nil {
		if f.Paths != nil {
			return f, gatewaysync.Invalid("path and paths are mutually exclusive")
		}
		f.Paths = &[]string{*r.Path}
	}
	return f, nil
}

func (s *Server) HandleCreateRoute(c fiber.Ctx) error {
	var req routeRequest
	if err := decode(c, routeFields, &req); err != nil {
		return s.fail(c, err, nil)
	}

	fields, err := req.fields()
	if err != nil {
		return s.fail(c, err, nil)
	}

	route, exec, err := s.ops.CreateRoute(c.Context(), c.Params("id"), fields)
	if err != nil {
		return s.fail(c, err, exec)
	}

	return s.done(c, fiber.StatusCreated, exec, route)
}

func (s *Server) HandleListServiceRoutes(c fiber.Ctx) error {
	svc, err := s.mirror.GetService(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, nil)
	}

	routes, err := s.mirror.ListRoutes(c.Context(), svc.ID)
	if err != nil {
		return s.fail(c, err, nil)
	}

	return c.JSON(routes)
}

func (s *Server) HandleListRoutes(c fiber.Ctx) error {
	routes, err := s.mirror.ListRoutes(c.Context(), "")
	if err != nil {
		return s.fail(c, err, nil)
	}

	return c.JSON(routes)
}

func (s *Server) HandleGetRoute(c fiber.Ctx) error {
	route, err := s.mirror.GetRoute(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, nil)
	}

	return c.JSON(route)
}

func (s *Server) HandleUpdateRoute(c fiber.Ctx) error {
	var req routeRequest
	if err := decode(c, routeFields, &req); err != nil {
		return s.fail(c, err, nil)
	}

	fields, err := req.fields()
	if err != nil {
		return s.fail(c, err, nil)
	}

	route, exec, err := s.ops.UpdateRoute(c.Context(), c.Params("id"), fields)
	if err != nil {
		return s.fail(c, err, exec)
	}

	return s.done(c, fiber.StatusOK, exec, route)
}

func (s *Server) HandleDeleteRoute(c fiber.Ctx) error {
	exec, err := s.ops.DeleteRoute(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, exec)
	}

	return s.done(c, fiber.StatusNoContent, exec, nil)
}
