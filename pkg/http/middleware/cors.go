package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// CORSConfig holds CORS configuration. Zero-valued lists fall back to the
// methods and headers the forecasting API uses.
type CORSConfig struct {
	AllowOrigins  []string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        time.Duration
}

var (
	defaultCORSMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}
	defaultCORSHeaders = []string{
		echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
	}
	// Retry-After accompanies 429 from the training submit limiter.
	defaultCORSExpose = []string{echo.HeaderRetryAfter, echo.HeaderContentDisposition}
)

// CORS answers cross-origin requests from the configured origins. Other
// origins get no CORS headers and a preflight from them is rejected.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	if len(cfg.AllowMethods) == 0 {
		cfg.AllowMethods = defaultCORSMethods
	}
	if len(cfg.AllowHeaders) == 0 {
		cfg.AllowHeaders = defaultCORSHeaders
	}
	if len(cfg.ExposeHeaders) == 0 {
		cfg.ExposeHeaders = defaultCORSExpose
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 10 * time.Minute
	}

	wildcard := false
	origins := make(map[string]struct{}, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			wildcard = true
		}
		origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	expose := strings.Join(cfg.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge / time.Second))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response().Header()
			res.Add(echo.HeaderVary, echo.HeaderOrigin)

			origin := req.Header.Get(echo.HeaderOrigin)
			preflight := req.Method == http.MethodOptions &&
				req.Header.Get(echo.HeaderAccessControlRequestMethod) != ""

			if origin == "" {
				return next(c)
			}
			_, listed := origins[origin]
			if !wildcard && !listed {
				if preflight {
					return c.NoContent(http.StatusForbidden)
				}
				return next(c)
			}

			if wildcard {
				res.Set(echo.HeaderAccessControlAllowOrigin, "*")
			} else {
				res.Set(echo.HeaderAccessControlAllowOrigin, origin)
			}
			if !preflight {
				res.Set(echo.HeaderAccessControlExposeHeaders, expose)
				return next(c)
			}

			res.Add(echo.HeaderVary, echo.HeaderAccessControlRequestMethod)
			res.Set(echo.HeaderAccessControlAllowMethods, methods)
			res.Set(echo.HeaderAccessControlAllowHeaders, headers)
			res.Set(echo.HeaderAccessControlMaxAge, maxAge)
			return c.NoContent(http.StatusNoContent)
		}
	}
}
