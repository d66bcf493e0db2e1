package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger creates an access-log middleware using zap. Latency is also fed to
// metrics when m is non-nil.
func Logger(logger *zap.Logger, m *infraPrometheus.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()
		if err != nil {
			// let the app's error handler set the final status before we log it
			if handlerErr := c.App().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		duration := time.Since(start)
		status := c.Response().StatusCode()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", duration),
			zap.String("ip", c.IP()),
			zap.String("user_agent", c.Get(fiber.HeaderUserAgent)),
		}

		if rid, ok := c.Locals(requestIDKey).(string); ok {
			fields = append(fields, zap.String("request_id", rid))
		}

		level := zapcore.InfoLevel
		switch {
		case err != nil || status >= fiber.StatusInternalServerError:
			level = zapcore.ErrorLevel
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
		case status >= fiber.StatusBadRequest:
			level = zapcore.WarnLevel
		}
		logger.Log(level, "request", fields...)

		m.ObserveRequest(c.Method(), c.Route().Path, status, duration)
		return nil
	}
}
