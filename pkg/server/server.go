// Package server assembles the HTTP and WebSocket surface of the guide
// service: the visitor websocket endpoint, the detection ingest API, the
// ops monitor hub, and health/metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parkwalk/go-docent/internal/config"
	"github.com/parkwalk/go-docent/internal/metrics"
	"github.com/parkwalk/go-docent/pkg/hub"
	"github.com/parkwalk/go-docent/pkg/knowledge"
	"github.com/parkwalk/go-docent/pkg/session"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Server owns the fiber app and the long-lived service components.
type Server struct {
	cfg    *config.Config
	app    *fiber.App
	store  *session.Store
	hub    *hub.Hub
	kb     *knowledge.Store
	deps   session.Deps
	logger *slog.Logger
}

// New builds the app and registers every route. The knowledge store may
// be nil; exhibit routes then report the store as unavailable.
func New(cfg *config.Config, deps session.Deps, kb *knowledge.Store, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		hub:    hub.New(logger),
		kb:     kb,
		logger: logger.With("component", "server"),
	}
	go s.hub.Run()

	if deps.Notify == nil {
		deps.Notify = func(kind, clientID, detail string) {
			s.hub.Publish(hub.NewEvent(kind, clientID, detail))
		}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewWith(prometheus.NewRegistry())
	}
	s.deps = deps
	s.store = session.NewStore(deps, sessionOptions(cfg), logger)

	s.app = fiber.New(fiber.Config{
		AppName:               "go-docent",
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	if cfg.Logging.Level == "debug" {
		s.app.Use(fiberlogger.New())
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	s.registerRoutes()
	return s
}

// sessionOptions maps the service configuration onto per-session tuning.
func sessionOptions(cfg *config.Config) session.Options {
	opts := session.DefaultOptions()
	opts.QueueSize = cfg.Pipeline.QueueSize
	opts.MinWords = cfg.Pipeline.MinWords
	opts.MaxWords = cfg.Pipeline.MaxWords
	opts.SynthTimeout = cfg.TTS.TTSTimeout()
	opts.ChunkSize = cfg.Audio.ChunkSize
	opts.PacingDelay = cfg.Audio.PacingDelay()
	return opts
}

func (s *Server) registerRoutes() {
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws/guide", websocket.New(s.handleGuide))
	s.app.Get("/ws/guide/:id", websocket.New(s.handleGuide))
	s.app.Get("/ws/monitor", s.hub.Handler(s.logger))

	s.app.Get("/healthz", s.handleHealth)
	if s.cfg.Server.Metrics {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := s.app.Group("/api")
	api.Post("/detections", s.handleDetection)
	api.Get("/sessions", s.handleSessions)
	api.Get("/exhibits", s.handleListExhibits)
	api.Post("/exhibits", s.handleAddFact)
}

// App exposes the fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving on the configured address.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Address, s.cfg.Server.Port)
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown drains connections, closes sessions, and stops the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.store.CloseAll()
	s.hub.Stop()
	return err
}
