package server

import (
	"context"
	"log/slog"
	"time"

	"wellbot/app/api"
	"wellbot/app/deps"
	"wellbot/app/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	listenAddr string
	logger     *slog.Logger
	app        *fiber.App
}

func NewServer(d *deps.Deps, agent api.Answerer) *Server {
	cfg := d.Config.Server
	app := fiber.New(fiber.Config{
		ErrorHandler:          api.ErrorHandler,
		BodyLimit:             cfg.BodyLimitMB * 1024 * 1024,
		ReadTimeout:           cfg.RequestTimeout,
		DisableStartupMessage: true,
	})

	var (
		checkHandler   = api.NewCheckHandler(d.Store)
		configHandler  = api.NewConfigHandler(d.Settings)
		fileHandler    = api.NewFileHandler(d.Ingestor, d.Store, cfg.IngestTimeout)
		requestHandler = api.NewRequestHandler(d.Retriever, d.Settings, agent)
		check          = app.Group("/check")
		apiv1          = app.Group("/api/v1")
	)

	app.Use(recover.New())
	app.Use(middleware.SkipPaths(middleware.RequestLogger(d.Logger), "/check/healthy", "/metrics"))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))

	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)

	apiv1.Get("/config/retrieval", configHandler.HandleGetConfig)
	apiv1.Put("/config/retrieval", configHandler.HandleSetConfig)

	apiv1.Post("/documents", fileHandler.HandleUpload)
	apiv1.Get("/documents", fileHandler.HandleList)
	apiv1.Get("/documents/:id", fileHandler.HandleGet)
	apiv1.Delete("/documents/:id", fileHandler.HandleDelete)

	apiv1.Post("/retrieve", requestHandler.HandleRetrieve)
	apiv1.Post("/chat", requestHandler.HandleChat)

	return &Server{
		listenAddr: cfg.Addr,
		logger:     d.Logger,
		app:        app,
	}
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	s.logger.Info("server started", "addr", s.listenAddr)
	return s.app.Listen(s.listenAddr)
}

func (s *Server) Stop(ctx context.Context) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		s.logger.Error("error stopping server", "error", err)
	}
	s.logger.Info("server stopped")
}
