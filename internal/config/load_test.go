package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv sets up environment variables for testing
func setupEnv(t *testing.T, envVars map[string]string) {
	for name, value := range envVars {
		t.Setenv(name, value)
	}
}

// chdirTemp runs the test from an empty directory so no stray config.yaml or .env is read.
func chdirTemp(t *testing.T) string {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

// TestLoadDefaults verifies that Load applies defaults when nothing is configured.
func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "./data", cfg.App.DataDir)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, filepath.Join("data", "jobs.db"), cfg.Database.DSN)
	assert.Equal(t, 3, cfg.Processing.MaxConcurrentTasks)
	assert.Equal(t, 500*time.Millisecond, cfg.Processing.RateLimitWait)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 720*time.Hour, cfg.Cache.Retention)
	assert.Equal(t, []string{"*.jpg", "*.jpeg", "*.png", "*.webp"}, cfg.HotFolder.FilePatterns)
	assert.Equal(t, int64(1024), cfg.HotFolder.MinFileSize)
	assert.Equal(t, "gemini", cfg.Providers.Current)
	assert.Equal(t, 60*time.Second, cfg.Providers.RequestTimeout)
	assert.Equal(t, 10, cfg.Providers.Gemini.RateLimit)
	assert.True(t, cfg.Providers.Qwen.Enabled)
	assert.Equal(t, int64(1024*1024*1024), cfg.CacheMaxBytes())
}

// TestLoadFromEnv verifies that environment variables override defaults.
func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)
	setupEnv(t, map[string]string{
		"XIUTU_APP_LOGLEVEL":                    "debug",
		"XIUTU_PROCESSING_MAXCONCURRENTTASKS":   "42",
		"XIUTU_DATABASE_DRIVER":                 "memory",
		"XIUTU_HOTFOLDER_FILEPATTERNS":          "*.png,*.tif",
		"XIUTU_PROVIDERS_QWEN_RATELIMIT":        "2",
		"GEMINI_API_KEY":                        "AIzaTestKey",
		"XIUTU_PROVIDERS_REQUESTTIMEOUT":        "5s",
		"XIUTU_CACHE_MAXENTRIES":                "7",
	})

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, MaxConcurrency, cfg.Processing.MaxConcurrentTasks, "concurrency is clamped")
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, []string{"*.png", "*.tif"}, cfg.HotFolder.FilePatterns)
	assert.Equal(t, 2, cfg.Providers.Qwen.RateLimit)
	assert.Equal(t, "AIzaTestKey", cfg.Providers.Gemini.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Providers.RequestTimeout)
	assert.Equal(t, 7, cfg.Cache.MaxEntries)
}

// TestLoadFromFile verifies that a YAML config file is read, including custom
// providers and templates.
func TestLoadFromFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "custom.yaml")
	content := `
app:
  dataDir: /var/lib/xiutu
processing:
  maxConcurrentTasks: 0
providers:
  current: local
  custom:
    - id: local
      name: Local SD
      endpoint: http://127.0.0.1:7860/transform
      authMode: none
      rateLimit: 4
      enabled: true
      costPerImage: 0.01
templates:
  - id: sketch
    name: Pencil sketch
    prompt: turn into a pencil sketch
    strength: 0.7
    resolution: 2048
    quality: high
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/xiutu", cfg.App.DataDir)
	assert.Equal(t, filepath.Join("/var/lib/xiutu", "output"), cfg.Processing.OutputPath)
	assert.Equal(t, filepath.Join("/var/lib/xiutu", "cache"), cfg.Cache.Dir)
	assert.Equal(t, MinConcurrency, cfg.Processing.MaxConcurrentTasks)
	require.Len(t, cfg.Providers.Custom, 1)
	assert.Equal(t, "local", cfg.Providers.Custom[0].ID)
	assert.Equal(t, 4, cfg.Providers.Custom[0].RateLimit)
	assert.InDelta(t, 0.01, cfg.Providers.Custom[0].CostPerImage, 1e-9)
	require.Len(t, cfg.Templates, 1)
	assert.Equal(t, 2048, cfg.Templates[0].Resolution)
}

// TestLoadValidationErrors verifies that invalid values are rejected.
func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad driver", env: map[string]string{"XIUTU_DATABASE_DRIVER": "oracle"}},
		{name: "bad log level", env: map[string]string{"XIUTU_APP_LOGLEVEL": "verbose"}},
		{name: "hot folder without input", env: map[string]string{"XIUTU_HOTFOLDER_ENABLED": "true"}},
		{name: "hot folder output is input", env: map[string]string{
			"XIUTU_HOTFOLDER_ENABLED":    "true",
			"XIUTU_HOTFOLDER_TEMPLATEID": "enhance",
			"XIUTU_HOTFOLDER_INPUTPATH":  "/srv/in",
			"XIUTU_HOTFOLDER_OUTPUTPATH": "/srv/in/",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			setupEnv(t, tt.env)

			cfg, err := Load("")
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdirTemp(t)

	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestClampConcurrency(t *testing.T) {
	assert.Equal(t, 1, ClampConcurrency(-3))
	assert.Equal(t, 5, ClampConcurrency(5))
	assert.Equal(t, 10, ClampConcurrency(11))
}
