package api

import (
	"github.com/fortressi/gatewaysync/operations"
	"github.com/gofiber/fiber/v3"
)

func (s *Server) HandleCreateService(c fiber.Ctx) error {
	var req operations.ServiceFields
	if err := decode(c, serviceFields, &req); err != nil {
		return s.fail(c, err, nil)
	}

	svc, exec, err := s.ops.CreateService(c.Context(), req)
	if err != nil {
		return s.fail(c, err, exec)
	}

	return s.done(c, fiber.StatusCreated, exec, svc)
}

func (s *Server) HandleListServices(c fiber.Ctx) error {
	services, err := s.mirror.ListServices(c.Context())
	if err != nil {
		return s.fail(c, err, nil)
	}

	return c.JSON(services)
}

func (s *Server) HandleGetService(c fiber.Ctx) error {
	svc, err := s.mirror.GetService(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, nil)
	}

	return c.JSON(svc)
}

func (s *Server) HandleUpdateService(c fiber.Ctx) error {
	var req operations.ServiceFields
	if err := decode(c, serviceFields, &req); err != nil {
		return s.fail(c, err, nil)
	}

	svc, exec, err := s.ops.UpdateService(c.Context(), c.Params("id"), req)
	if err != nil {
		return s.fail(c, err, exec)
	}

	return s.done(c, fiber.StatusOK, exec, svc)
}

func (s *Server) HandleDeleteService(c fiber.Ctx) error {
	exec, err := s.ops.DeleteService(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, exec)
	}

	return s.done(c, fiber.StatusNoContent, exec, nil)
}
