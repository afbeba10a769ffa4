package routes

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
)

// ProxyFailureMessage is the body sent when the backend cannot be reached.
const ProxyFailureMessage = "Something went wrong. Please try again later."

const defaultProxyTimeout = 30 * time.Second

func upstream(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse proxy target: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("proxy target must be an absolute http(s) URL, got %q", raw)
	}
	return u, nil
}

// RegisterProxyRoutes forwards every request under the group to target with
// the path prefix kept, so /api/auth/login/ reaches target/api/auth/login/.
func RegisterProxyRoutes(r fiber.Router, target *url.URL, timeout time.Duration, logger *slog.Logger) {
	if timeout <= 0 {
		timeout = defaultProxyTimeout
	}
	base := target.String()
	r.All("/*", func(c *fiber.Ctx) error {
		dest := base + c.OriginalURL()
		if err := proxy.DoTimeout(c, dest, timeout); err != nil {
			logger.Error("proxy request failed",
				slog.String("method", c.Method()),
				slog.String("upstream", dest),
				slog.Any("error", err),
			)
			c.Response().Reset()
			c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
			return c.Status(fiber.StatusInternalServerError).SendString(ProxyFailureMessage)
		}
		c.Response().Header.Del(fiber.HeaderServer)
		return nil
	})
}
