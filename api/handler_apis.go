package api

import (
	"github.com/fortressi/gatewaysync/operations"
	"github.com/gofiber/fiber/v3"
)

func (s *Server) HandleCreateAPI(c fiber.Ctx) error {
	var req operations.APIFields
	if err := decode(c, apiCreateFields, &req); err != nil {
		return s.fail(c, err, nil)
	}

	api, exec, err := s.ops.CreateAPI(c.Context(), req)
	if err != nil {
		return s.fail(c, err, exec)
	}

	return s.done(c, fiber.StatusCreated, exec, api)
}

func (s *Server) HandleListAPIs(c fiber.Ctx) error {
	services, err := s.mirror.ListServices(c.Context())
	if err != nil {
		return s.fail(c, err, nil)
	}

	routes, err := s.mirror.ListRoutes(c.Context(), "")
	if err != nil {
		return s.fail(c, err, nil)
	}

	apis := make([]operations.API, 0, len(services))
	for i := range services {
		api := operations.API{Service: &services[i]}
		for j := range routes {
			if routes[j].ServiceID == services[i].ID {
				api.Route = &routes[j]
				break
			}
		}
		apis = append(apis, api)
	}

	return c.JSON(apis)
}

func (s *Server) HandleGetAPI(c fiber.Ctx) error {
	api, err := s.ops.GetAPI(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, nil)
	}

	return c.JSON(api)
}

func (s *Server) HandleUpdateAPI(c fiber.Ctx) error {
	var req operations.APIFields
	if err := decode(c, apiUpdateFields, &req); err != nil {
		return s.fail(c, err, nil)
	}

	api, exec, err := s.ops.UpdateAPI(c.Context(), c.Params("id"), req)
	if err != nil {
		return s.fail(c, err, exec)
	}

	return s.done(c, fiber.StatusOK, exec, api)
}

func (s *Server) HandleDeleteAPI(c fiber.Ctx) error {
	exec, err := s.ops.DeleteAPI(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, exec)
	}

	return s.done(c, fiber.StatusNoContent, exec, nil)
}
