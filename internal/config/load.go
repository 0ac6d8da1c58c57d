package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding configuration keys.
const EnvPrefix = "XIUTU"

// Concurrency bounds for processing.maxConcurrentTasks.
const (
	MinConcurrency = 1
	MaxConcurrency = 10
)

// setDefaults registers every configuration key so environment overrides
// are visible to Unmarshal even when no config file mentions them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.dataDir", "./data")
	v.SetDefault("app.logLevel", "info")
	v.SetDefault("app.logFormat", "json")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.shutdownTimeout", "10s")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "")

	v.SetDefault("processing.maxConcurrentTasks", 3)
	v.SetDefault("processing.defaultPriority", 0)
	v.SetDefault("processing.defaultMaxRetries", 3)
	v.SetDefault("processing.outputPath", "")
	v.SetDefault("processing.rateLimitWait", "500ms")
	v.SetDefault("processing.rateLimitRetries", 20)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.maxEntries", 1000)
	v.SetDefault("cache.maxSizeMB", 1024)
	v.SetDefault("cache.retention", "720h")
	v.SetDefault("cache.sweepInterval", "1h")

	v.SetDefault("hotFolder.enabled", false)
	v.SetDefault("hotFolder.inputPath", "")
	v.SetDefault("hotFolder.outputPath", "")
	v.SetDefault("hotFolder.templateId", "")
	v.SetDefault("hotFolder.filePatterns", []string{"*.jpg", "*.jpeg", "*.png", "*.webp"})
	v.SetDefault("hotFolder.autoStart", false)
	v.SetDefault("hotFolder.minFileSize", 1024)
	v.SetDefault("hotFolder.settleDelay", "500ms")
	v.SetDefault("hotFolder.restartDelay", "5s")

	v.SetDefault("providers.current", "gemini")
	v.SetDefault("providers.requestTimeout", "60s")
	for _, name := range []string{"gemini", "qwen"} {
		prefix := "providers." + name + "."
		v.SetDefault(prefix+"apiKey", "")
		v.SetDefault(prefix+"endpoint", "")
		v.SetDefault(prefix+"model", "")
		v.SetDefault(prefix+"rateLimit", 10)
		v.SetDefault(prefix+"maxAttempts", 3)
		v.SetDefault(prefix+"baseDelay", "1s")
		v.SetDefault(prefix+"enabled", true)
	}
}

// Load configuration from defaults, an optional config file, .env files and
// environment variables, in increasing order of precedence. An empty path
// searches ./config.yaml and the user config directory; a missing file is
// not an error in that case.
func Load(path string) (*Config, error) {
	// Values already present in the environment win over .env files.
	_ = godotenv.Load(".env", ".env.local")

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "ai-xiutu"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Vendor key variables commonly exported for the SDKs.
	_ = v.BindEnv("providers.gemini.apiKey", EnvPrefix+"_PROVIDERS_GEMINI_APIKEY", "GEMINI_API_KEY")
	_ = v.BindEnv("providers.qwen.apiKey", EnvPrefix+"_PROVIDERS_QWEN_APIKEY", "DASHSCOPE_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDerived()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.HotFolder.validateDirs(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDerived fills paths that default relative to the data directory and
// clamps values with a fixed allowed range.
func (c *Config) applyDerived() {
	if c.Database.DSN == "" && c.Database.Driver == "sqlite3" {
		c.Database.DSN = filepath.Join(c.App.DataDir, "jobs.db")
	}
	if c.Processing.OutputPath == "" {
		c.Processing.OutputPath = filepath.Join(c.App.DataDir, "output")
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(c.App.DataDir, "cache")
	}
	c.Processing.MaxConcurrentTasks = ClampConcurrency(c.Processing.MaxConcurrentTasks)
	c.App.LogLevel = strings.ToLower(c.App.LogLevel)
	c.App.LogFormat = strings.ToLower(c.App.LogFormat)
}

// validateDirs rejects an output directory equal to the watched input
// directory, which would feed outputs back into the watcher.
func (h HotFolderConfig) validateDirs() error {
	if h.InputPath == "" || h.OutputPath == "" {
		return nil
	}
	if filepath.Clean(h.InputPath) == filepath.Clean(h.OutputPath) {
		return errors.New("hotFolder.outputPath must differ from hotFolder.inputPath")
	}
	return nil
}

// ClampConcurrency bounds n to [MinConcurrency, MaxConcurrency].
func ClampConcurrency(n int) int {
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// ImagesDir is the staging area for submitted source images.
func (c *Config) ImagesDir() string {
	return filepath.Join(c.App.DataDir, "images")
}

// CacheMaxBytes returns the cache byte budget.
func (c *Config) CacheMaxBytes() int64 {
	return c.Cache.MaxSizeMB * 1024 * 1024
}
