package server

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"claimpricer/internal/core"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware propagates the caller's X-Request-ID, or generates one,
// into the request context and the response headers.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(requestIDHeader, id)
			ctx := core.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DecompressMiddleware transparently decodes gzip and brotli request bodies.
// The decoded body is capped at maxBytes.
func DecompressMiddleware(maxBytes int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			encoding := strings.ToLower(strings.TrimSpace(req.Header.Get(echo.HeaderContentEncoding)))

			var body io.ReadCloser
			switch encoding {
			case "", "identity":
				return next(c)
			case "gzip":
				zr, err := gzip.NewReader(req.Body)
				if err != nil {
					return handleError(c, core.NewInvalidRequestError("invalid gzip body", err))
				}
				body = zr
			case "br":
				body = io.NopCloser(brotli.NewReader(req.Body))
			default:
				return handleError(c, &core.PricingError{
					Kind:       core.ErrorKindInvalidRequest,
					Message:    "unsupported content encoding: " + encoding,
					StatusCode: http.StatusUnsupportedMediaType,
				})
			}

			req.Body = http.MaxBytesReader(c.Response(), body, maxBytes)
			req.Header.Del(echo.HeaderContentEncoding)
			req.ContentLength = -1
			return next(c)
		}
	}
}

// requestLogger logs one line per request through slog.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", c.Response().Header().Get(requestIDHeader)),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}
