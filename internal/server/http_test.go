package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const officeVisit = `{"provider_id":"org-ahn","date_of_service":"2026-06-01","code":"99213"}`

func newTestServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	return New(seededHandler(t, nil, 0), cfg)
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthIsPublic(t *testing.T) {
	srv := newTestServer(t, &Config{MasterKey: "secret"})

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_PriceRequiresKey(t *testing.T) {
	srv := newTestServer(t, &Config{MasterKey: "secret"})

	rec := do(srv, httptest.NewRequest(http.MethodPost, "/v1/claims/price", strings.NewReader(officeVisit)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/claims/price", strings.NewReader(officeVisit))
	req.Header.Set("Authorization", "Bearer secret")
	rec = do(srv, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"allowed_amount":"127.50"`)
}

func TestServer_RequestID(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := do(srv, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_CompressedBodies(t *testing.T) {
	srv := newTestServer(t, nil)

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte(officeVisit))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, err = bw.Write([]byte(officeVisit))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	tests := []struct {
		name     string
		encoding string
		body     []byte
		status   int
	}{
		{"gzip", "gzip", gz.Bytes(), http.StatusOK},
		{"brotli", "br", br.Bytes(), http.StatusOK},
		{"identity", "identity", []byte(officeVisit), http.StatusOK},
		{"corrupt gzip", "gzip", []byte("not gzip"), http.StatusBadRequest},
		{"unsupported", "compress", []byte(officeVisit), http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/claims/price", bytes.NewReader(tt.body))
			req.Header.Set("Content-Encoding", tt.encoding)
			rec := do(srv, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status == http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"allowed_amount":"127.50"`)
			}
		})
	}
}

func TestServer_BodyLimit(t *testing.T) {
	srv := newTestServer(t, &Config{BodySizeLimit: "1K"})

	big := `{"provider_id":"org-ahn","note":"` + strings.Repeat("x", 4096) + `"}`
	rec := do(srv, httptest.NewRequest(http.MethodPost, "/v1/claims/price", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// A small compressed body that inflates past the limit.
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte(big))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.Less(t, gz.Len(), 1024)

	req := httptest.NewRequest(http.MethodPost, "/v1/claims/price", bytes.NewReader(gz.Bytes()))
	req.Header.Set("Content-Encoding", "gzip")
	rec = do(srv, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "claimpricer_test_total", Help: "test"}).Inc()

	t.Run("disabled", func(t *testing.T) {
		srv := newTestServer(t, &Config{Gatherer: reg})
		rec := do(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("custom path is public", func(t *testing.T) {
		srv := newTestServer(t, &Config{
			MasterKey:       "secret",
			MetricsEnabled:  true,
			MetricsEndpoint: "/monitoring/metrics",
			Gatherer:        reg,
		})
		rec := do(srv, httptest.NewRequest(http.MethodGet, "/monitoring/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "claimpricer_test_total 1")
	})

	t.Run("api paths fall back to /metrics", func(t *testing.T) {
		srv := newTestServer(t, &Config{
			MasterKey:       "secret",
			MetricsEnabled:  true,
			MetricsEndpoint: "/foo/../v1/claims/price",
			Gatherer:        reg,
		})
		rec := do(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = do(srv, httptest.NewRequest(http.MethodPost, "/v1/claims/price", strings.NewReader(officeVisit)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestMetricsRoute(t *testing.T) {
	tests := map[string]string{
		"":                   "/metrics",
		"/metrics":           "/metrics",
		"stats":              "/stats",
		"/internal/metrics/": "/internal/metrics",
		"/v1":                "/metrics",
		"/v1/metrics":        "/metrics",
		"/a/../v1/x":         "/metrics",
		"/health":            "/metrics",
		"/":                  "/metrics",
	}
	for in, want := range tests {
		assert.Equal(t, want, metricsRoute(in), in)
	}
}
