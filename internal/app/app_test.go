package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimpricer/config"
	"claimpricer/internal/cache"
	"claimpricer/internal/core"
	"claimpricer/internal/history"
	"claimpricer/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("PRICER_CONFIG", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

const officeVisit = `{"provider_id":"org-ahn","date_of_service":"2026-06-01","code":"99213","modifier":"50"}`

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}

func TestNew_MemorySeedsDemoData(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = config.StorageMemory
	cfg.Metrics.Enabled = true

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	_, cached := app.Store().(*cache.CachedStore)
	assert.True(t, cached, "local cache is the default")

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/claims/price", strings.NewReader(officeVisit)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"allowed_amount":"191.25"`)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `claimpricer_claims_priced_total{outcome="PRICED"} 1`)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history/summary", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "memory storage has no history")
}

func TestNew_StagedOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = config.StorageMemory
	cfg.Cache.Type = config.CacheNone
	cfg.Engine.Accumulation = "staged"

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	assert.Equal(t, "staged", string(app.Engine().Order()))
}

func TestNew_SQLiteRecordsHistory(t *testing.T) {
	cfg := testConfig(t)
	dbPath := filepath.Join(t.TempDir(), "pricer.db")
	cfg.Storage.Type = config.StorageSQLite
	cfg.Storage.SQLite.Path = dbPath
	cfg.Storage.Seed = true
	cfg.History.FlushInterval = 1

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)

	for _, body := range []string{officeVisit, `{"provider_id":"nobody","date_of_service":"2026-06-01"}`} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/claims/price", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.NoError(t, app.Shutdown(context.Background()))
	require.NoError(t, app.Shutdown(context.Background()), "second shutdown is a no-op")

	st, err := storage.New(context.Background(), storage.Config{
		Type:   storage.TypeSQLite,
		SQLite: storage.SQLiteConfig{Path: dbPath},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hs, err := history.NewSQLiteStore(st.SQLiteDB(), 0)
	require.NoError(t, err)
	summary, err := hs.Summary(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.ByOutcome[core.OutcomePriced])
	assert.Equal(t, 1, summary.ByOutcome[core.OutcomeNoContract])
}

func TestNew_SeedSkipsPopulatedStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = config.StorageSQLite
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "pricer.db")
	cfg.Storage.Seed = true
	cfg.History.Enabled = false

	first, err := New(context.Background(), cfg)
	require.NoError(t, err)
	rules, err := first.Store().ListRules(context.Background(), "contract-ahn-2026")
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(context.Background()))

	second, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Shutdown(context.Background()) })
	again, err := second.Store().ListRules(context.Background(), "contract-ahn-2026")
	require.NoError(t, err)
	assert.Len(t, again, len(rules))
}

func TestOpenStore_UnknownCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = config.StorageMemory
	cfg.Cache.Type = "memcached"

	_, _, err := OpenStore(context.Background(), cfg)
	assert.Error(t, err)
}
