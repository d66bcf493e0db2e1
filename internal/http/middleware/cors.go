package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORS allows the browser client to call the API from the given origins.
// An empty list allows any origin.
func CORS(origins []string) fiber.Handler {
	allow := "*"
	if len(origins) > 0 {
		allow = strings.Join(origins, ",")
	}

	return cors.New(cors.Config{
		AllowOrigins:  allow,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, " + RequestIDHeader,
		ExposeHeaders: "Content-Length, Content-Type, " + RequestIDHeader,
		MaxAge:        86400,
	})
}
