package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/gcm-relay/internal/observability"
)

// CorrelationID propagates the caller's correlation id, or a fresh one, into
// the request context and echoes it on the response.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		correlationID := strings.TrimSpace(c.Get(observability.CorrelationIDHeader))
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		c.Set(observability.CorrelationIDHeader, correlationID)
		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), correlationID))

		return c.Next()
	}
}
