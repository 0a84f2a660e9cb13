package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                  os.Getenv("PORT"),
		"DATABASE_URL":          os.Getenv("DATABASE_URL"),
		"REDIS_URL":             os.Getenv("REDIS_URL"),
		"BACKEND_BASE_URL":      os.Getenv("BACKEND_BASE_URL"),
		"CRM_BASE_URL":          os.Getenv("CRM_BASE_URL"),
		"DEFAULT_COUNTRY_CODE":  os.Getenv("DEFAULT_COUNTRY_CODE"),
		"STRIPE_WEBHOOK_SECRET": os.Getenv("STRIPE_WEBHOOK_SECRET"),
		"LOG_LEVEL":             os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("CRM_BASE_URL")
		os.Unsetenv("DEFAULT_COUNTRY_CODE")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "https://services.leadconnectorhq.com", cfg.CRMBaseURL)
		assert.Equal(t, "55", cfg.DefaultCountryCode)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("DEFAULT_COUNTRY_CODE", "1")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, "1", cfg.DefaultCountryCode)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Unsetenv("REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DatabaseURL:        "postgres://localhost/test",
			RedisURL:           "rediss://localhost:6379",
			DefaultCountryCode: "55",
		}
	}

	t.Run("valid development config", func(t *testing.T) {
		assert.NoError(t, base().Validate(false))
	})

	t.Run("rejects non-numeric country code", func(t *testing.T) {
		cfg := base()
		cfg.DefaultCountryCode = "BR"
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects empty country code", func(t *testing.T) {
		cfg := base()
		cfg.DefaultCountryCode = ""
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects weak stripe secret in production", func(t *testing.T) {
		cfg := base()
		cfg.StripeWebhookSecret = "secret"
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("weak secret allowed outside production", func(t *testing.T) {
		cfg := base()
		cfg.StripeWebhookSecret = "secret"
		assert.NoError(t, cfg.Validate(false))
	})
}
