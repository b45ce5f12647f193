package httpserver

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server exposes the Brain's operational surface: a liveness check and a
// Prometheus scrape endpoint. It carries no trading logic of its own.
type Server struct {
	app  *fiber.App
	addr string
}

// New builds the HTTP server, registering reg's metrics at /metrics.
func New(addr string, reg *prometheus.Registry) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Unix()})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return &Server{app: app, addr: addr}
}

// Start runs the server, blocking until Shutdown is called or it errors.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("starting http server")
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
