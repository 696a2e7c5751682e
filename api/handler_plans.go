package api

import (
	"github.com/gofiber/fiber/v3"
)

func (s *Server) HandleGetPlan(c fiber.Ctx) error {
	record, err := s.plans.Load(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, nil)
	}

	return c.JSON(record)
}
