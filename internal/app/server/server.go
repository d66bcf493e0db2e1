package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/internal/app/qrcode"
	"github.com/sifan077/shortlink/internal/app/service"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	inthttp "github.com/sifan077/shortlink/internal/http/handler"
	"github.com/sifan077/shortlink/internal/http/middleware"
	"go.uber.org/zap"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	bodyLimit    = 64 * 1024
)

// Dependencies bundles the services and infrastructure the HTTP server exposes.
type Dependencies struct {
	Logger      *zap.Logger
	Metrics     *infraPrometheus.Metrics
	Links       service.LinkService
	Resolver    inthttp.Resolver
	QRCodes     qrcode.Encoder
	Checks      []inthttp.ReadinessCheck
	CORSOrigins []string
	BaseURL     string
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with all routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "shortlink",
		DisableStartupMessage: true,
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		IdleTimeout:           idleTimeout,
		BodyLimit:             bodyLimit,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(
		middleware.RequestID(),
		middleware.Logger(s.deps.Logger, s.deps.Metrics),
		middleware.Recovery(s.deps.Logger),
		middleware.CORS(s.deps.CORSOrigins),
	)
}

func (s *Server) registerRoutes() {
	apiHandler := inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:      s.deps.Logger,
		LinkService: s.deps.Links,
		QRCodes:     s.deps.QRCodes,
		Metrics:     s.deps.Metrics,
	})
	apiHandler.Register(s.app)

	// GET /:code swallows any single segment, so it goes last.
	redirectHandler := inthttp.NewRedirectHandler(inthttp.RedirectDeps{
		Logger:   s.deps.Logger,
		Resolver: s.deps.Resolver,
		Checks:   s.deps.Checks,
		HomeURL:  s.deps.BaseURL,
	})
	redirectHandler.Register(s.app)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		if code < fiber.StatusInternalServerError {
			message = fe.Message
		}
	}
	return c.Status(code).JSON(fiber.Map{"error": message})
}
