package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/bytes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultBodySizeLimit applies when Config.BodySizeLimit is empty or invalid.
	DefaultBodySizeLimit = "4M"
	// DefaultBatchMaxClaims caps a single batch request.
	DefaultBatchMaxClaims = 1000
	defaultMetricsPath    = "/metrics"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string // Optional: Master key for authentication
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   string // Max request body size, echo syntax (default: 4M)
	// Gatherer backs the metrics endpoint. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// New creates a new HTTP server
func New(handler *Handler, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	authSkipPaths := []string{"/health"}

	metricsPath := metricsRoute(cfg.MetricsEndpoint)
	if cfg.MetricsEnabled {
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	bodyLimit := cfg.BodySizeLimit
	limitBytes, err := bytes.Parse(bodyLimit)
	if err != nil || limitBytes <= 0 {
		if bodyLimit != "" {
			slog.Warn("invalid body size limit, using default", "value", bodyLimit, "default", DefaultBodySizeLimit)
		}
		bodyLimit = DefaultBodySizeLimit
		limitBytes, _ = bytes.Parse(bodyLimit)
	}

	// Global middleware stack (order matters)
	e.Use(RequestIDMiddleware())
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	e.Use(DecompressMiddleware(limitBytes))

	// Public routes
	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		e.GET(metricsPath, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API routes
	e.POST("/v1/claims/price", handler.PriceClaim)
	e.POST("/v1/claims/price/batch", handler.PriceBatch)
	e.GET("/v1/contracts/:id/rules", handler.ListRules)
	e.GET("/v1/history/summary", handler.HistorySummary)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// metricsRoute normalizes the configured metrics path. Paths under /v1
// would shadow or unprotect API routes and fall back to /metrics.
func metricsRoute(endpoint string) string {
	if endpoint == "" {
		return defaultMetricsPath
	}
	p := path.Clean("/" + endpoint)
	if p == "/" || p == "/health" || p == "/v1" || strings.HasPrefix(p, "/v1/") {
		return defaultMetricsPath
	}
	return p
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
