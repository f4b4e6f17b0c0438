package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/translation-orchestrator/pkg/log"
)

// Config holds all process level configuration.
// Values come from environment variables with sensible defaults. The
// translation registry (providers, models, prompts, active selection) lives
// in the SettingsStore; the LLM_* variables below only seed it on first boot.
//
// Environment Variables:
// HTTP:
// - HTTP_ADDR: listen address (default: :8080)
// - CORS_ALLOW_ORIGINS: comma separated origins (default: *)
//
// System:
// - DATA_DIR: data directory (default: /app/data)
// - LOG_LEVEL: debug|info|warn|error (default: info)
// - LOG_FORMAT: console|json (default: console)
//
// Store:
// - STORE_DRIVER: sqlite|file (default: sqlite)
// - DB_PATH: sqlite file or file store directory (default: DATA_DIR/orchestrator.db or DATA_DIR/store)
//
// Orchestrator:
// - CHUNK_SIZE: segments per chunk (default: 3)
// - MAX_CONCURRENT_JOBS: jobs translated in parallel (default: 4)
// - PROVIDER_TIMEOUT: per call timeout in seconds (default: 60)
// - PROVIDER_REQUESTS_PER_MINUTE: per provider request budget, 0 disables (default: 5)
// - CONFIG_MODE: snapshot|live (default: snapshot)
// - MAINTENANCE_CRON: standard cron expression for stranded job recovery (default: */5 * * * *)
//
// Registry seed:
// - LLM_PROVIDER: provider id (default: openai)
// - LLM_PROVIDER_KIND: implementation key (default: LLM_PROVIDER)
// - LLM_API_URL: endpoint override (default: https://api.openai.com/v1)
// - LLM_API_KEY_REF: credential reference (default: env:LLM_API_KEY)
// - LLM_MODEL: model id (default: gpt-4o-mini)
// - LLM_MAX_TOKENS: default: 1000
// - LLM_TEMPERATURE: default: 0.1
// - SOURCE_LANGUAGE / TARGET_LANGUAGE: BCP 47 tags (default: ar / ur)
// - PROVIDER_MOCK_ENABLED: register the deterministic mock provider (default: false)
// - REGISTRY_FILE: optional YAML file with extra providers, models and prompts
//
// Events:
// - REDIS_ADDR: publish progress events to redis when set
// - REDIS_CHANNEL: default: translation-jobs
//
// Telemetry:
// - OTEL_ENABLED, OTEL_SERVICE_NAME, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE, OTEL_SAMPLER_RATIO
type Config struct {
	HTTP         HTTPConfig         `json:"http"`
	System       SystemConfig       `json:"system"`
	Store        StoreConfig        `json:"store"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	LLM          LLMConfig          `json:"llm"`
	Translate    TranslateConfig    `json:"translate"`
	Redis        RedisConfig        `json:"redis"`
	Telemetry    TelemetryConfig    `json:"telemetry"`
}

type HTTPConfig struct {
	Addr         string   `json:"addr"`
	AllowOrigins []string `json:"allow_origins"`
}

type SystemConfig struct {
	DataDir   string `json:"data_dir"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

const (
	StoreDriverSQLite = "sqlite"
	StoreDriverFile   = "file"
)

type StoreConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

const (
	ConfigModeSnapshot = "snapshot"
	ConfigModeLive     = "live"
)

type OrchestratorConfig struct {
	ChunkSize         int    `json:"chunk_size"`
	MaxConcurrentJobs int    `json:"max_concurrent_jobs"`
	ProviderTimeout   int    `json:"provider_timeout"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	ConfigMode        string `json:"config_mode"`
	MaintenanceCron   string `json:"maintenance_cron"`
}

func (c OrchestratorConfig) ProviderTimeoutDuration() time.Duration {
	return time.Duration(c.ProviderTimeout) * time.Second
}

// LLMConfig seeds the registry with a single provider and model.
type LLMConfig struct {
	Provider    string  `json:"provider"`
	Kind        string  `json:"kind"`
	APIURL      string  `json:"api_url"`
	APIKeyRef   string  `json:"-"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	MockEnabled bool    `json:"mock_enabled"`

	RegistryFile string `json:"registry_file"`
}

type TranslateConfig struct {
	SourceLanguage language.Tag `json:"source_language"`
	TargetLanguage language.Tag `json:"target_language"`
}

type RedisConfig struct {
	Addr    string `json:"addr"`
	Channel string `json:"channel"`
}

type TelemetryConfig struct {
	Enabled     bool    `json:"enabled"`
	ServiceName string  `json:"service_name"`
	Endpoint    string  `json:"endpoint"`
	Insecure    bool    `json:"insecure"`
	SampleRatio float64 `json:"sample_ratio"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	provider := getEnvString("LLM_PROVIDER", "openai")
	config := &Config{
		HTTP: HTTPConfig{
			Addr:         getEnvString("HTTP_ADDR", ":8080"),
			AllowOrigins: getEnvList("CORS_ALLOW_ORIGINS", []string{"*"}),
		},
		System: SystemConfig{
			DataDir:   getEnvString("DATA_DIR", "/app/data"),
			LogLevel:  getEnvString("LOG_LEVEL", "info"),
			LogFormat: getEnvString("LOG_FORMAT", "console"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverSQLite)),
			Path:   getEnvString("DB_PATH", ""),
		},
		Orchestrator: OrchestratorConfig{
			ChunkSize:         getEnvInt("CHUNK_SIZE", 3),
			MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 4),
			ProviderTimeout:   getEnvInt("PROVIDER_TIMEOUT", 60),
			RequestsPerMinute: getEnvInt("PROVIDER_REQUESTS_PER_MINUTE", 5),
			ConfigMode:        strings.ToLower(getEnvString("CONFIG_MODE", ConfigModeSnapshot)),
			MaintenanceCron:   getEnvString("MAINTENANCE_CRON", "*/5 * * * *"),
		},
		LLM: LLMConfig{
			Provider:    provider,
			Kind:        getEnvString("LLM_PROVIDER_KIND", provider),
			APIURL:      getEnvString("LLM_API_URL", "https://api.openai.com/v1"),
			APIKeyRef:   getEnvString("LLM_API_KEY_REF", "env:LLM_API_KEY"),
			Model:       getEnvString("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.1),
			MockEnabled: getEnvBool("PROVIDER_MOCK_ENABLED", false),

			RegistryFile: getEnvString("REGISTRY_FILE", ""),
		},
		Translate: TranslateConfig{
			SourceLanguage: getEnvLanguage("SOURCE_LANGUAGE", language.Arabic),
			TargetLanguage: getEnvLanguage("TARGET_LANGUAGE", language.Urdu),
		},
		Redis: RedisConfig{
			Addr:    getEnvString("REDIS_ADDR", ""),
			Channel: getEnvString("REDIS_CHANNEL", "translation-jobs"),
		},
		Telemetry: TelemetryConfig{
			Enabled:     getEnvBool("OTEL_ENABLED", false),
			ServiceName: getEnvString("OTEL_SERVICE_NAME", "translation-orchestrator"),
			Endpoint:    getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio: getEnvFloat("OTEL_SAMPLER_RATIO", 1),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if config.Store.Path == "" {
		config.Store.Path = config.defaultStorePath()
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config loaded: store=%s(%s) chunk_size=%d max_concurrent_jobs=%d config_mode=%s",
		config.Store.Driver, config.Store.Path, config.Orchestrator.ChunkSize,
		config.Orchestrator.MaxConcurrentJobs, config.Orchestrator.ConfigMode)

	return config, nil
}

func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.System.DataDir = dir
	}
}

func WithStore(driver, path string) Option {
	return func(c *Config) {
		c.Store.Driver = driver
		c.Store.Path = path
	}
}

func (c *Config) defaultStorePath() string {
	if c.Store.Driver == StoreDriverFile {
		return filepath.Join(c.System.DataDir, "store")
	}
	return filepath.Join(c.System.DataDir, "orchestrator.db")
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreDriverSQLite, StoreDriverFile:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverSQLite, StoreDriverFile, c.Store.Driver)
	}
	if c.Orchestrator.ChunkSize < 1 {
		return fmt.Errorf("CHUNK_SIZE must be greater than 0")
	}
	if c.Orchestrator.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be greater than 0")
	}
	if c.Orchestrator.ProviderTimeout < 1 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be greater than 0")
	}
	if c.Orchestrator.RequestsPerMinute < 0 {
		return fmt.Errorf("PROVIDER_REQUESTS_PER_MINUTE must not be negative")
	}
	switch c.Orchestrator.ConfigMode {
	case ConfigModeSnapshot, ConfigModeLive:
	default:
		return fmt.Errorf("CONFIG_MODE must be %q or %q", ConfigModeSnapshot, ConfigModeLive)
	}
	if _, err := cron.ParseStandard(c.Orchestrator.MaintenanceCron); err != nil {
		return fmt.Errorf("invalid MAINTENANCE_CRON: %w", err)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	ret := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	if len(ret) == 0 {
		return defaultValue
	}
	return ret
}

func getEnvLanguage(key string, defaultValue language.Tag) language.Tag {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	tag, err := language.Parse(raw)
	if err != nil {
		log.Warn("Ignoring invalid %s=%q: %v", key, raw, err)
		return defaultValue
	}
	return tag
}
