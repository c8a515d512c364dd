// Package api serves the daemon's status HTTP endpoints: health probes,
// Prometheus metrics, runtime stats and configuration reload.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Info describes the running daemon for /v1/info.
type Info struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	APIVersion string `json:"apiVersion"`
}

// Hooks decouples the API server from the daemon. All fields are required.
type Hooks struct {
	// Stats returns the value served as JSON by /v1/stats.
	Stats func() any
	// Ready reports whether the transport is mapped and running.
	Ready func() error
	// Reload re-reads the configuration, as on SIGHUP.
	Reload func() error
}

// Server is the status HTTP server.
type Server struct {
	app    *fiber.App
	listen string
	logger *zap.Logger
}

// New builds the server and its routes. The gatherer serves /metrics; pass
// the registry the daemon's stats were registered on.
func New(listen string, info Info, hooks Hooks, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               info.Name,
	})

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("alive", func() error { return nil })
	health.AddReadinessCheck("transport", hooks.Ready)
	app.Get("/live", adaptor.HTTPHandlerFunc(health.LiveEndpoint))
	app.Get("/ready", adaptor.HTTPHandlerFunc(health.ReadyEndpoint))

	app.Get("/metrics", adaptor.HTTPHandler(
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := app.Group("/v1")
	v1.Get("/info", func(c *fiber.Ctx) error {
		return c.JSON(&info)
	})
	v1.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(hooks.Stats())
	})
	v1.Post("/reload", func(c *fiber.Ctx) error {
		if err := hooks.Reload(); err != nil {
			logger.Warn("reload via API failed", zap.Error(err))
			return c.Status(fiber.StatusUnprocessableEntity).
				JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"reloaded": true})
	})

	return &Server{app: app, listen: listen, logger: logger}
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("status API listening", zap.String("addr", s.listen))
	return s.app.Listen(s.listen)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
