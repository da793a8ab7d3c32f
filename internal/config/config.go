// Package config provides configuration loading for the OCR workbench.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Response modes understood by the parser.
const (
	ModeStructured = "structured"
	ModeDelimited  = "delimited"
)

// Config holds all configuration for the workbench.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Retry         RetryConfig         `yaml:"retry"`
	Canvas        CanvasConfig        `yaml:"canvas"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Cache         CacheConfig         `yaml:"cache"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LLMConfig holds AI service settings.
type LLMConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	OCRModel     string        `yaml:"ocr_model"`
	ImageModel   string        `yaml:"image_model"`
	Temperature  float32       `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
	ResponseMode string        `yaml:"response_mode"` // structured or delimited
}

// RetryConfig holds backoff settings for transient AI failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxJitter   time.Duration `yaml:"max_jitter"`
}

// CanvasConfig holds zoom and selection limits.
type CanvasConfig struct {
	MinZoom      int `yaml:"min_zoom"`
	MaxZoom      int `yaml:"max_zoom"`
	ZoomStep     int `yaml:"zoom_step"`
	MinSelection int `yaml:"min_selection"`
}

// ExtractionConfig holds orchestration settings.
type ExtractionConfig struct {
	DetectImages bool `yaml:"detect_images"`
	CropWorkers  int  `yaml:"crop_workers"`
}

// CacheConfig holds reply cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ServerConfig holds the local API listener settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`

	// AllowedOrigins lists browser origins besides loopback ones that may
	// call the API.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:      "https://openrouter.ai/api/v1",
			OCRModel:     "google/gemini-2.5-flash",
			ImageModel:   "google/gemini-2.5-flash-image",
			Temperature:  0.1,
			MaxTokens:    8192,
			Timeout:      120 * time.Second,
			ResponseMode: ModeStructured,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxJitter:   1 * time.Second,
		},
		Canvas: CanvasConfig{
			MinZoom:      25,
			MaxZoom:      200,
			ZoomStep:     25,
			MinSelection: 10,
		},
		Extraction: ExtractionConfig{
			DetectImages: false,
			CropWorkers:  4,
		},
		Cache: CacheConfig{
			Driver:     "none",
			TTL:        30 * time.Minute,
			MaxEntries: 256,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8090,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   5 * time.Minute,
			RequestTimeout: 5 * time.Minute,
			MaxUploadBytes: 100 * 1024 * 1024,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.LLM.ResponseMode != ModeStructured && c.LLM.ResponseMode != ModeDelimited {
		return fmt.Errorf("invalid response mode: %s", c.LLM.ResponseMode)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}

	if c.Canvas.MinZoom < 1 || c.Canvas.MaxZoom < c.Canvas.MinZoom {
		return fmt.Errorf("invalid zoom bounds: %d-%d", c.Canvas.MinZoom, c.Canvas.MaxZoom)
	}

	if c.Canvas.ZoomStep < 1 {
		return fmt.Errorf("zoom_step must be positive")
	}

	if c.Cache.Driver != "none" && c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

// Addr returns the host:port the local API listens on.
func (c *Config) Addr() string {
	return c.Server.Addr()
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	if v := os.Getenv("OCR_MODEL"); v != "" {
		cfg.LLM.OCRModel = v
	}

	if v := os.Getenv("IMAGE_MODEL"); v != "" {
		cfg.LLM.ImageModel = v
	}

	if v := os.Getenv("RESPONSE_MODE"); v != "" {
		cfg.LLM.ResponseMode = strings.ToLower(v)
	}

	if v := os.Getenv("DETECT_IMAGES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Extraction.DetectImages = b
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		opt, err := redis.ParseURL(v)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = opt.Addr
		cfg.Cache.Redis.Password = opt.Password
		cfg.Cache.Redis.DB = opt.DB
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}

	return nil
}
