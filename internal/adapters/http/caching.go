package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses based on endpoint.
// Adds sensible defaults if not already set by the handler.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		// Only set on GET requests
		if c.Method() != "GET" {
			return err
		}

		// Don't override if already set
		if existing := c.Get("Cache-Control"); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		// Default cache times by endpoint pattern
		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "public, max-age=10" // Very short for system checks

		case path == "/metrics":
			ttl = "no-cache" // Metrics are real-time

		case path == "/graphql":
			ttl = "private, max-age=0" // GraphQL varies wildly

		case path == "/v1/sessions":
			ttl = "public, max-age=30" // Listings shift while sessions run

		case strings.HasSuffix(path, "/rounds"):
			ttl = "public, max-age=60" // Rounds only grow

		case strings.HasPrefix(path, "/v1/sessions/"):
			ttl = "public, max-age=60" // Single session

		case path == "/v1/stats" || path == "/v1/backends":
			ttl = "public, max-age=60" // Aggregates: 1 min

		case path == "/v1/status":
			ttl = "public, max-age=60" // Store counters: 1 min

		case strings.HasPrefix(path, "/v1/"):
			ttl = "public, max-age=300" // 5 min default for API endpoints
		}

		if ttl != "" {
			c.Set("Cache-Control", ttl)
		}

		return err
	}
}
