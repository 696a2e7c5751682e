// Package api is the HTTP surface of the synchronizer.
package api

import (
	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/mirror"
	"github.com/fortressi/gatewaysync/operations"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	ops    *operations.Operator
	mirror *mirror.Store
	plans  gatewaysync.Store
	log    zerolog.Logger
}

func NewServer(ops *operations.Operator, store *mirror.Store, plans gatewaysync.Store, log zerolog.Logger) *Server {
	return &Server{ops: ops, mirror: store, plans: plans, log: log}
}

func (s *Server) SetupRoutes(app *fiber.App) {
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
	}))

	// Composite service plus route
	app.Post("/apis", s.HandleCreateAPI)
	app.Get("/apis", s.HandleListAPIs)
	app.Get("/apis/:id", s.HandleGetAPI)
	app.Patch("/apis/:id", s.HandleUpdateAPI)
	app.Delete("/apis/:id", s.HandleDeleteAPI)

	app.Post("/services", s.HandleCreateService)
	app.Get("/services", s.HandleListServices)
	app.Get("/services/:id", s.HandleGetService)
	app.Patch("/services/:id", s.HandleUpdateService)
	app.Delete("/services/:id", s.HandleDeleteService)
	app.Post("/services/:id/routes", s.HandleCreateRoute)
	app.Get("/services/:id/routes", s.HandleListServiceRoutes)
	app.Post("/services/:id/plugins", s.HandleCreatePlugin(gatewaysync.KindService))
	app.Get("/services/:id/plugins", s.HandleListPlugins(gatewaysync.KindService))

	app.Get("/routes", s.HandleListRoutes)
	app.Get("/routes/:id", s.HandleGetRoute)
	app.Patch("/routes/:id", s.HandleUpdateRoute)
	app.Delete("/routes/:id", s.HandleDeleteRoute)
	app.Post("/routes/:id/plugins", s.HandleCreatePlugin(gatewaysync.KindRoute))
	app.Get("/routes/:id/plugins", s.HandleListPlugins(gatewaysync.KindRoute))

	// Catalog and individual bindings
	app.Get("/plugins", s.HandleListCatalog)
	app.Get("/plugins/:id", s.HandleGetPlugin)
	app.Patch("/plugins/:id", s.HandleUpdatePlugin)
	app.Delete("/plugins/:id", s.HandleDeletePlugin)

	app.Get("/plans/:id", s.HandleGetPlan)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
}
