package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate moves into an empty directory so no .env or config.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("PRICER_CONFIG", "")
	return dir
}

func TestExpandString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "no placeholders", input: "simple-string", expected: "simple-string"},
		{
			name:     "simple variable",
			input:    "${PRICER_TEST_DB}",
			envVars:  map[string]string{"PRICER_TEST_DB": "postgres://db"},
			expected: "postgres://db",
		},
		{
			name:     "multiple variables",
			input:    "${PRICER_TEST_SCHEME}://${PRICER_TEST_HOST}:${PRICER_TEST_PORT}",
			envVars:  map[string]string{"PRICER_TEST_SCHEME": "redis", "PRICER_TEST_HOST": "cache", "PRICER_TEST_PORT": "6379"},
			expected: "redis://cache:6379",
		},
		{
			name:     "default ignored when set",
			input:    "${PRICER_TEST_LEVEL:-info}",
			envVars:  map[string]string{"PRICER_TEST_LEVEL": "debug"},
			expected: "debug",
		},
		{name: "default used when missing", input: "${PRICER_TEST_LEVEL:-info}", expected: "info"},
		{
			name:     "default used when empty",
			input:    "${PRICER_TEST_LEVEL:-info}",
			envVars:  map[string]string{"PRICER_TEST_LEVEL": ""},
			expected: "info",
		},
		{name: "unresolved without default", input: "${PRICER_TEST_MISSING}", expected: "${PRICER_TEST_MISSING}"},
		{
			name:     "empty value without default stays",
			input:    "${PRICER_TEST_EMPTY}",
			envVars:  map[string]string{"PRICER_TEST_EMPTY": ""},
			expected: "${PRICER_TEST_EMPTY}",
		},
		{
			name:     "partially resolved",
			input:    "${PRICER_TEST_A}:${PRICER_TEST_B:-fallback}:${PRICER_TEST_C}",
			envVars:  map[string]string{"PRICER_TEST_A": "one"},
			expected: "one:fallback:${PRICER_TEST_C}",
		},
		{name: "default with colons", input: "${PRICER_TEST_URL:-mongodb://localhost:27017}", expected: "mongodb://localhost:27017"},
		{name: "empty default", input: "${PRICER_TEST_OPTIONAL:-}", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandString(tt.input))
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, StorageSQLite, cfg.Storage.Type)
	assert.Equal(t, CacheLocal, cfg.Cache.Type)
	assert.Equal(t, "score", cfg.Engine.Accumulation)
	assert.Equal(t, 1000, cfg.Engine.BatchMaxClaims)
	assert.True(t, cfg.History.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := `
server:
  port: "9090"
storage:
  type: postgresql
  postgresql:
    url: ${PRICER_TEST_PG:-postgres://localhost/pricer}
engine:
  accumulation: staged
  max_skip_steps: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, StoragePostgreSQL, cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost/pricer", cfg.Storage.PostgreSQL.URL)
	assert.Equal(t, 10, cfg.Storage.PostgreSQL.MaxConns, "unset keys keep defaults")
	assert.Equal(t, "staged", cfg.Engine.Accumulation)
	assert.Equal(t, 5, cfg.Engine.MaxSkipSteps)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))
	t.Setenv("PRICER_CONFIG", path)
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PRICER_MASTER_KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PRICER_MASTER_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Server.MasterKey)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	t.Setenv("PRICER_CONFIG", "/nonexistent/pricer.yaml")

	_, err := Load()
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name:    "storage",
			envVars: map[string]string{"STORAGE_TYPE": "mongodb", "MONGODB_URL": "mongodb://m:27017", "MONGODB_DATABASE": "claims"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, StorageMongoDB, cfg.Storage.Type)
				assert.Equal(t, "mongodb://m:27017", cfg.Storage.MongoDB.URL)
				assert.Equal(t, "claims", cfg.Storage.MongoDB.Database)
			},
		},
		{
			name:    "numbers and flags",
			envVars: map[string]string{"ENGINE_MAX_SKIP_STEPS": "3", "HISTORY_ENABLED": "false", "METRICS_ENABLED": "true"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.Engine.MaxSkipSteps)
				assert.False(t, cfg.History.Enabled)
				assert.True(t, cfg.Metrics.Enabled)
			},
		},
		{
			name:    "cache",
			envVars: map[string]string{"CACHE_TYPE": "redis", "REDIS_URL": "redis://r:6379"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, CacheRedis, cfg.Cache.Type)
				assert.Equal(t, "redis://r:6379", cfg.Cache.Redis.URL)
			},
		},
		{name: "bad number", envVars: map[string]string{"ENGINE_BATCH_MAX_CLAIMS": "lots"}, wantErr: true},
		{name: "bad flag", envVars: map[string]string{"HISTORY_ENABLED": "sometimes"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg := buildDefaultConfig()
			err := applyEnvOverrides(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "memory storage", mutate: func(c *Config) { c.Storage.Type = StorageMemory }},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Type = "oracle" }, wantErr: "storage.type"},
		{name: "postgres without url", mutate: func(c *Config) { c.Storage.Type = StoragePostgreSQL }, wantErr: "storage.postgresql.url"},
		{name: "redis without url", mutate: func(c *Config) { c.Cache.Type = CacheRedis }, wantErr: "cache.redis.url"},
		{name: "unknown cache", mutate: func(c *Config) { c.Cache.Type = "memcached" }, wantErr: "cache.type"},
		{name: "unknown accumulation", mutate: func(c *Config) { c.Engine.Accumulation = "random" }, wantErr: "engine.accumulation"},
		{name: "negative skip steps", mutate: func(c *Config) { c.Engine.MaxSkipSteps = -1 }, wantErr: "max_skip_steps"},
		{name: "unknown log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := buildDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ExampleFileMatchesDefaults(t *testing.T) {
	example, err := filepath.Abs("config.example.yaml")
	require.NoError(t, err)

	isolate(t)
	t.Setenv("PRICER_CONFIG", example)

	cfg, err := Load()
	require.NoError(t, err)

	defaults := buildDefaultConfig()
	assert.Equal(t, defaults.Storage.Type, cfg.Storage.Type)
	assert.Equal(t, defaults.Storage.SQLite, cfg.Storage.SQLite)
	assert.Equal(t, defaults.Storage.PostgreSQL.MaxConns, cfg.Storage.PostgreSQL.MaxConns)
	assert.Equal(t, defaults.Storage.MongoDB.Database, cfg.Storage.MongoDB.Database)
	assert.Equal(t, defaults.Cache.Redis.Prefix, cfg.Cache.Redis.Prefix)
	assert.Equal(t, defaults.Engine, cfg.Engine)
	assert.Equal(t, defaults.History, cfg.History)
	assert.Equal(t, defaults.Metrics, cfg.Metrics)
	assert.Equal(t, defaults.Log, cfg.Log)
	assert.Empty(t, cfg.Server.MasterKey)
}
