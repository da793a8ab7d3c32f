package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeStructured, cfg.LLM.ResponseMode)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 25, cfg.Canvas.MinZoom)
	assert.Equal(t, 200, cfg.Canvas.MaxZoom)
	assert.Equal(t, 4, cfg.Extraction.CropWorkers)
	assert.Equal(t, "127.0.0.1:8090", cfg.Addr())
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workbench.yaml")
	yamlDoc := `
llm:
  response_mode: delimited
  ocr_model: test/ocr
retry:
  max_attempts: 5
extraction:
  detect_images: true
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("IMAGE_MODEL", "test/image")
	t.Setenv("SERVER_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeDelimited, cfg.LLM.ResponseMode)
	assert.Equal(t, "test/ocr", cfg.LLM.OCRModel)
	assert.Equal(t, "test/image", cfg.LLM.ImageModel)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Extraction.DetectImages)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoad_RedisURLSwitchesCacheDriver(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6380")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "cache:6380", cfg.Cache.Redis.Addr)
}

func TestLoad_RedisURLCredentials(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://:s3cret@cache.internal:6380/2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "cache.internal:6380", cfg.Cache.Redis.Addr)
	assert.Equal(t, "s3cret", cfg.Cache.Redis.Password)
	assert.Equal(t, 2, cfg.Cache.Redis.DB)
}

func TestLoad_RedisURLInvalid(t *testing.T) {
	t.Setenv("REDIS_URL", "http://cache:6380")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://app.example, ,http://tool.local:3000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://app.example", "http://tool.local:3000"}, cfg.Server.AllowedOrigins)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown response mode", func(c *Config) { c.LLM.ResponseMode = "xml" }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"inverted zoom bounds", func(c *Config) { c.Canvas.MaxZoom = 10 }},
		{"unknown cache driver", func(c *Config) { c.Cache.Driver = "memcached" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
