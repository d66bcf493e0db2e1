package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sifan077/shortlink/internal/app/service"
	"github.com/sifan077/shortlink/internal/http/middleware"
	"github.com/sifan077/shortlink/internal/http/view"
	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

// Resolver looks up the destination of a short code.
type Resolver interface {
	Resolve(ctx context.Context, code string, visit service.Visit) (string, error)
}

// ReadinessCheck pings one backend the service depends on.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// RedirectDeps groups dependencies required by redirect handlers.
type RedirectDeps struct {
	Logger   *zap.Logger
	Resolver Resolver
	Checks   []ReadinessCheck
	// HomeURL is linked from the not-found page.
	HomeURL string
}

// RedirectHandler serves short-link redirects and the health endpoints.
type RedirectHandler struct {
	logger   *zap.Logger
	resolver Resolver
	checks   []ReadinessCheck
	homeURL  string
	started  time.Time
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger:   logger,
		resolver: deps.Resolver,
		checks:   deps.Checks,
		homeURL:  deps.HomeURL,
		started:  time.Now().UTC(),
	}
}

// Register wires redirect routes onto the provided router. It must be called after
// every other route, since /:code matches any single segment.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)
	router.Get("/health/ready", h.Ready)
	router.Get("/:code", h.Resolve)
}

// Health is a simple root endpoint so we know the service is running.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "shortlink",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready pings every configured backend concurrently and reports 503 if any fails.
func (h *RedirectHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.checks))
		healthy = true
	)
	for _, check := range h.checks {
		wg.Add(1)
		go func(check ReadinessCheck) {
			defer wg.Done()
			err := check.Ping(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				results[check.Name] = err.Error()
				h.logger.Warn("readiness check failed", zap.String("check", check.Name), zap.Error(err))
				return
			}
			results[check.Name] = "ok"
		}(check)
	}
	wg.Wait()

	status, state := fiber.StatusOK, "ready"
	if !healthy {
		status, state = fiber.StatusServiceUnavailable, "unavailable"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": results,
	})
}

// Resolve handles GET /:code.
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	code := c.Params("code")

	// The visit outlives the request in the click pipeline; Fiber reuses these buffers.
	target, err := h.resolver.Resolve(c.UserContext(), code, service.Visit{
		IP:        utils.CopyString(c.IP()),
		UserAgent: utils.CopyString(c.Get(fiber.HeaderUserAgent)),
	})
	if err != nil {
		if errors.Is(err, service.ErrLinkNotFound) {
			return h.renderPage(c, fiber.StatusNotFound, view.NotFoundPage(code, h.homeURL))
		}
		h.logger.Error("failed to resolve short link",
			zap.Error(err),
			zap.String("code", code),
			zap.String("request_id", middleware.GetRequestID(c)))
		return h.renderPage(c, fiber.StatusInternalServerError, view.ErrorPage(h.homeURL))
	}

	h.logger.Debug("redirecting short link", zap.String("code", code), zap.String("target", target))
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Redirect(target, fiber.StatusFound)
}

func (h *RedirectHandler) renderPage(c *fiber.Ctx, status int, data view.StatusPageData) error {
	html, err := view.RenderStatusPage(data)
	if err != nil {
		h.logger.Error("failed to render status page", zap.Error(err))
		return c.SendStatus(status)
	}
	return c.Status(status).
		Type("html", "utf-8").
		SendString(html)
}
