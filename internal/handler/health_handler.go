package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/gcm-relay/internal/observability"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck probes one backend. A nil Ping marks the backend as not
// configured for this process.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

func RedisCheck(rdb *redis.Client) ReadinessCheck {
	check := ReadinessCheck{Name: "redis"}
	if rdb != nil {
		check.Ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return check
}

func PostgresCheck(db *sql.DB) ReadinessCheck {
	check := ReadinessCheck{Name: "postgres"}
	if db != nil {
		check.Ping = db.PingContext
	}
	return check
}

func RegisterHealthRoutes(app fiber.Router, checks ...ReadinessCheck) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(checks...))
}

func RegisterMetricsRoute(app fiber.Router, metrics *observability.Metrics) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// ReadyzHandler reports whether the configured backends are reachable; the
// push provider is not probed.
func ReadyzHandler(checks ...ReadinessCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		status := "ready"
		statusCode := fiber.StatusOK
		results := fiber.Map{}
		for _, check := range checks {
			switch {
			case check.Ping == nil:
				results[check.Name] = "disabled"
			case check.Ping(ctx) != nil:
				results[check.Name] = "down"
				status = "not_ready"
				statusCode = fiber.StatusServiceUnavailable
			default:
				results[check.Name] = "ok"
			}
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}
