package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"MarketSync/pkg/logger"
)

// RequestLogging logs 5xx responses as errors, slow ones as warnings and the
// rest at debug.
func RequestLogging(lgr *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			latency := time.Since(start)
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("route", routeLabel(c)),
				logger.Int("status", c.Response().Status),
				logger.Duration("latency", latency),
				logger.Int64("bytes", c.Response().Size),
			}
			switch {
			case c.Response().Status >= 500:
				lgr.Error("http request failed", fields...)
			case slow > 0 && latency >= slow:
				lgr.Warn("http request slow", fields...)
			default:
				lgr.Debug("http request", fields...)
			}
			return nil
		}
	}
}
