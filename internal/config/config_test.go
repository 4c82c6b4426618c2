package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "canon", cfg.Canon.Dir)
	assert.Equal(t, "module-one-v2/execution.json", cfg.Canon.ExecutionFile)
	assert.Equal(t, "module-two/logic.json", cfg.Canon.LogicFile)
	assert.Equal(t, "module-one/thresholds.json", cfg.Canon.ThresholdsFile)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, ".", cfg.Pipeline.OutputDir)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "gigasphere.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 20, cfg.Server.RequestsPerSecond, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate("run"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
canon:
  dir: /etc/gigasphere/canon
store:
  driver: postgres
  database_url: postgres://localhost/runs
log:
  level: debug
  format: console
pipeline:
  workers: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/etc/gigasphere/canon", cfg.Canon.Dir)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/runs", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	// Defaults still apply for unset values
	assert.Equal(t, "module-two/logic.json", cfg.Canon.LogicFile)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GIGASPHERE_STORE_DRIVER", "none")
	t.Setenv("GIGASPHERE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("GIGASPHERE_SERVER_PORT", "3000")
	t.Setenv("GIGASPHERE_CANON_DIR", "rules")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "rules", cfg.Canon.Dir)
}

func TestLoadBadFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Canon.ExecutionFile = "execution.json"
	cfg.Canon.LogicFile = "logic.json"
	cfg.Pipeline.Workers = 4
	cfg.Store.Driver = DriverSQLite
	cfg.Store.DatabaseURL = "runs.db"
	cfg.Server.Port = 8080
	cfg.Server.RequestsPerSecond = 20
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "run defaults", mode: "run", mutate: func(*Config) {}},
		{name: "serve defaults", mode: "serve", mutate: func(*Config) {}},
		{name: "no store", mode: "run", mutate: func(c *Config) {
			c.Store.Driver = DriverNone
			c.Store.DatabaseURL = ""
		}},
		{name: "unknown mode", mode: "batch", mutate: func(*Config) {}, wantErr: "unknown mode"},
		{name: "missing canon files", mode: "run", mutate: func(c *Config) {
			c.Canon.ExecutionFile = ""
			c.Canon.LogicFile = ""
		}, wantErr: "canon.execution_file is required; canon.logic_file is required"},
		{name: "workers low", mode: "run", mutate: func(c *Config) { c.Pipeline.Workers = 0 }, wantErr: "pipeline.workers must be between 1 and 64"},
		{name: "workers high", mode: "run", mutate: func(c *Config) { c.Pipeline.Workers = 65 }, wantErr: "pipeline.workers must be between 1 and 64"},
		{name: "bad driver", mode: "run", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: "store.driver must be one of"},
		{name: "postgres without url", mode: "run", mutate: func(c *Config) {
			c.Store.Driver = DriverPostgres
			c.Store.DatabaseURL = ""
		}, wantErr: "store.database_url is required"},
		{name: "serve bad port", mode: "serve", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port must be > 0"},
		{name: "serve bad rate", mode: "serve", mutate: func(c *Config) { c.Server.RequestsPerSecond = 0 }, wantErr: "server.requests_per_second must be > 0"},
		{name: "run ignores port", mode: "run", mutate: func(c *Config) { c.Server.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
