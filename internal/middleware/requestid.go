package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestID makes sure every proxied request carries a request id, reusing
// the one the client sent so both sides log the same value.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
			c.Request().Header.Set(requestIDHeader, reqID)
		}

		c.Locals(requestIDHeader, reqID)
		err := c.Next()
		c.Set(requestIDHeader, reqID)
		return err
	}
}
