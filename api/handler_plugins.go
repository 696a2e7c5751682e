package api

import (
	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/mirror"
	"github.com/fortressi/gatewaysync/operations"
	"github.com/gofiber/fiber/v3"
)

func (s *Server) HandleCreatePlugin(parent gatewaysync.ResourceKind) fiber.Handler {
	return func(c fiber.Ctx) error {
		var req operations.PluginFields
		if err := decode(c, pluginCreateFields, &req); err != nil {
			return s.fail(c, err, nil)
		}

		binding, exec, err := s.ops.CreatePlugin(c.Context(), parent, c.Params("id"), req)
		if err != nil {
			return s.fail(c, err, exec)
		}

		return s.done(c, fiber.StatusCreated, exec, binding)
	}
}

func (s *Server) HandleListPlugins(parent gatewaysync.ResourceKind) fiber.Handler {
	return func(c fiber.Ctx) error {
		var filter mirror.BindingFilter

		switch parent {
		case gatewaysync.KindRoute:
			route, err := s.mirror.GetRoute(c.Context(), c.Params("id"))
			if err != nil {
				return s.fail(c, err, nil)
			}
			filter.RouteID = route.ID
		default:
			svc, err := s.mirror.GetService(c.Context(), c.Params("id"))
			if err != nil {
				return s.fail(c, err, nil)
			}
			filter.ServiceID = svc.ID
		}

		bindings, err := s.mirror.ListBindings(c.Context(), filter)
		if err != nil {
			return s.fail(c, err, nil)
		}

		return c.JSON(bindings)
	}
}

func (s *Server) HandleListCatalog(c fiber.Ctx) error {
	entries, err := s.mirror.ListCatalog(c.Context())
	if err != nil {
		return s.fail(c, err, nil)
	}

	return c.JSON(entries)
}

func (s *Server) HandleGetPlugin(c fiber.Ctx) error {
	binding, err := s.mirror.GetBinding(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, nil)
	}

	return c.JSON(binding)
}

func (s *Server) HandleUpdatePlugin(c fiber.Ctx) error {
	var req operations.PluginFields
	if err := decode(c, pluginUpdateFields, &req); err != nil {
		return s.fail(c, err, nil)
	}

	binding, exec, err := s.ops.UpdatePlugin(c.Context(), c.Params("id"), req)
	if err != nil {
		return s.fail(c, err, exec)
	}

	return s.done(c, fiber.StatusOK, exec, binding)
}

func (s *Server) HandleDeletePlugin(c fiber.Ctx) error {
	exec, err := s.ops.DeletePlugin(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, exec)
	}

	return s.done(c, fiber.StatusNoContent, exec, nil)
}
