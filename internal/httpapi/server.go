// Package httpapi is the Leader Event Ingress's webhook transport: an
// upstream leader-feed watcher (Shyft, a Telegram relay, or any other
// off-module collaborator) POSTs parsed leader transactions here, and this
// package republishes them onto the Event Bus's leader_tx topic for
// internal/ingress to consume. Grounded on the teacher's
// internal/signal/server.go (a fiber.App with a health endpoint and one
// POST endpoint that forwards a parsed payload onto a channel), generalized
// from the teacher's single in-process channel to a Publish onto the
// durable Event Bus, and extended with a /metrics endpoint for the
// Prometheus counters internal/metrics registers.
package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"copytrade-engine/internal/bus"
	"copytrade-engine/internal/model"
)

// Server runs the inbound webhook HTTP surface.
type Server struct {
	app  *fiber.App
	bus  *bus.Bus
	host string
	port int
}

// New builds a Server listening on host:port, publishing accepted payloads
// onto bus's leader_tx topic.
func New(host string, port int, b *bus.Bus) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	s := &Server{app: app, bus: b, host: host, port: port}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Unix()})
	})

	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	s.app.Post("/leader-tx", s.handleLeaderTx)
}

func (s *Server) handleLeaderTx(c *fiber.Ctx) error {
	var ev model.LeaderTxEvent
	if err := c.BodyParser(&ev); err != nil {
		log.Error().Err(err).Msg("failed to parse leader_tx webhook payload")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}

	idempotencyKey := fmt.Sprintf("%s-%s-%d", ev.LeaderWallet, ev.Mint, ev.Timestamp)
	if err := bus.Publish(c.Context(), s.bus, bus.TopicLeaderTx, idempotencyKey, &ev); err != nil {
		log.Error().Err(err).Str("leader", ev.LeaderWallet).Msg("failed to publish leader_tx")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "publish failed"})
	}

	log.Info().Str("leader", ev.LeaderWallet).Str("mint", ev.Mint).Str("direction", ev.Direction.String()).
		Msg("leader_tx webhook accepted")
	return c.JSON(fiber.Map{"status": "accepted"})
}

// Start blocks serving until the listener stops or errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting leader-tx webhook server")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
