package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	applogger "PriceCast/pkg/logger"
)

// Allower grants or refuses one request for a key.
type Allower interface {
	Allow(key string) (bool, time.Duration)
}

// RateLimit answers 429 with a Retry-After header once the client IP has no
// tokens left in lim.
func RateLimit(lim Allower, l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			ok, wait := lim.Allow(ip)
			if ok {
				return next(c)
			}
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			l.Warn("rate limited",
				applogger.String("ip", ip),
				applogger.String("route", c.Path()),
				applogger.Int("retry_after_s", secs),
			)
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"status":  http.StatusTooManyRequests,
				"message": "Too Many Requests",
			})
		}
	}
}
