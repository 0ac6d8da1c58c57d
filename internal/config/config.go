package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	App        AppConfig        `mapstructure:"app" validate:"required"`
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	Processing ProcessingConfig `mapstructure:"processing" validate:"required"`
	Cache      CacheConfig      `mapstructure:"cache" validate:"required"`
	HotFolder  HotFolderConfig  `mapstructure:"hotFolder"`
	Providers  ProvidersConfig  `mapstructure:"providers" validate:"required"`
	Templates  []TemplateConfig `mapstructure:"templates" validate:"dive"`
}

// AppConfig contains process-wide settings.
type AppConfig struct {
	DataDir   string `mapstructure:"dataDir" validate:"required"`
	LogLevel  string `mapstructure:"logLevel" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"logFormat" validate:"required,oneof=json text"`
}

// ServerConfig contains the local control API settings.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" validate:"gte=0"`
}

// DatabaseConfig selects the durable job store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite3 pgx memory"`
	DSN    string `mapstructure:"dsn"`
}

// ProcessingConfig contains scheduler and pipeline settings.
type ProcessingConfig struct {
	MaxConcurrentTasks int           `mapstructure:"maxConcurrentTasks"`
	DefaultPriority    int           `mapstructure:"defaultPriority"`
	DefaultMaxRetries  int           `mapstructure:"defaultMaxRetries" validate:"gte=0"`
	OutputPath         string        `mapstructure:"outputPath"`
	RateLimitWait      time.Duration `mapstructure:"rateLimitWait" validate:"gte=0"`
	RateLimitRetries   int           `mapstructure:"rateLimitRetries" validate:"gte=0"`
}

// CacheConfig contains Result Cache settings.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Dir           string        `mapstructure:"dir"`
	MaxEntries    int           `mapstructure:"maxEntries" validate:"gt=0"`
	MaxSizeMB     int64         `mapstructure:"maxSizeMB" validate:"gt=0"`
	Retention     time.Duration `mapstructure:"retention" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweepInterval" validate:"gte=0"`
}

// HotFolderConfig contains Ingestion Watcher settings.
type HotFolderConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	InputPath    string        `mapstructure:"inputPath" validate:"required_if=Enabled true"`
	OutputPath   string        `mapstructure:"outputPath" validate:"required_if=Enabled true"`
	TemplateID   string        `mapstructure:"templateId" validate:"required_if=Enabled true"`
	FilePatterns []string      `mapstructure:"filePatterns"`
	AutoStart    bool          `mapstructure:"autoStart"`
	MinFileSize  int64         `mapstructure:"minFileSize" validate:"gte=0"`
	SettleDelay  time.Duration `mapstructure:"settleDelay" validate:"gte=0"`
	RestartDelay time.Duration `mapstructure:"restartDelay" validate:"gte=0"`
}

// ProvidersConfig contains the provider registry settings.
type ProvidersConfig struct {
	Current        string                 `mapstructure:"current"`
	RequestTimeout time.Duration          `mapstructure:"requestTimeout" validate:"gt=0"`
	Gemini         ProviderConfig         `mapstructure:"gemini"`
	Qwen           ProviderConfig         `mapstructure:"qwen"`
	Custom         []CustomProviderConfig `mapstructure:"custom" validate:"dive"`
}

// ProviderConfig configures a built-in provider.
type ProviderConfig struct {
	APIKey      string        `mapstructure:"apiKey"`
	Endpoint    string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Model       string        `mapstructure:"model"`
	RateLimit   int           `mapstructure:"rateLimit" validate:"gte=0"`
	MaxAttempts int           `mapstructure:"maxAttempts" validate:"gte=0"`
	BaseDelay   time.Duration `mapstructure:"baseDelay" validate:"gte=0"`
	Enabled     bool          `mapstructure:"enabled"`
}

// CustomProviderConfig configures a user-defined HTTP provider.
type CustomProviderConfig struct {
	ID           string            `mapstructure:"id" validate:"required"`
	Name         string            `mapstructure:"name"`
	Endpoint     string            `mapstructure:"endpoint" validate:"required,url"`
	APIKey       string            `mapstructure:"apiKey"`
	Model        string            `mapstructure:"model"`
	AuthMode     string            `mapstructure:"authMode" validate:"omitempty,oneof=bearer header query none"`
	Headers      map[string]string `mapstructure:"headers"`
	RateLimit    int               `mapstructure:"rateLimit" validate:"gte=0"`
	MaxAttempts  int               `mapstructure:"maxAttempts" validate:"gte=0"`
	BaseDelay    time.Duration     `mapstructure:"baseDelay" validate:"gte=0"`
	Enabled      bool              `mapstructure:"enabled"`
	CostPerImage float64           `mapstructure:"costPerImage" validate:"gte=0"`
}

// TemplateConfig defines a user template merged over the built-ins.
type TemplateConfig struct {
	ID             string  `mapstructure:"id" validate:"required"`
	Name           string  `mapstructure:"name"`
	Prompt         string  `mapstructure:"prompt" validate:"required"`
	NegativePrompt string  `mapstructure:"negativePrompt"`
	Strength       float64 `mapstructure:"strength" validate:"gte=0,lte=1"`
	GuidanceScale  float64 `mapstructure:"guidanceScale" validate:"gte=0"`
	Steps          int     `mapstructure:"steps" validate:"gte=0"`
	Resolution     int     `mapstructure:"resolution" validate:"omitempty,gte=256,lte=4096"`
	Quality        string  `mapstructure:"quality" validate:"omitempty,oneof=standard high"`
}
