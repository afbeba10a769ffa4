package routes

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
)

const healthTimeout = 2 * time.Second

// RegisterHealthRoutes reports whether the backend and Redis are reachable.
func RegisterHealthRoutes(app *fiber.App, d Deps, target *url.URL) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		upstreamStatus := "ok"
		redisStatus := "disabled"

		if conn, err := net.DialTimeout("tcp", hostPort(target), healthTimeout); err != nil {
			upstreamStatus = err.Error()
		} else {
			_ = conn.Close()
		}

		if d.Cache != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
			defer cancel()
			redisStatus = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}

		status := http.StatusOK
		if upstreamStatus != "ok" || (redisStatus != "ok" && redisStatus != "disabled") {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"upstream": upstreamStatus, "redis": redisStatus},
			"target":    target.String(),
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}
