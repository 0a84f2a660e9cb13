package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                int    `env:"PORT" envDefault:"8080"`
	DatabaseURL         string `env:"DATABASE_URL,required"`
	RedisURL            string `env:"REDIS_URL,required"`
	BackendBaseURL      string `env:"BACKEND_BASE_URL" envDefault:""`
	CRMBaseURL          string `env:"CRM_BASE_URL" envDefault:"https://services.leadconnectorhq.com"`
	CRMAPIVersion       string `env:"CRM_API_VERSION" envDefault:"2021-07-28"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	DefaultCountryCode  string `env:"DEFAULT_COUNTRY_CODE" envDefault:"55"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.DefaultCountryCode == "" || !isDigits(c.DefaultCountryCode) {
		return fmt.Errorf("DEFAULT_COUNTRY_CODE must be a non-empty digit string")
	}

	if isProduction {
		if c.StripeWebhookSecret == "" {
			log.Warn().Msg("STRIPE_WEBHOOK_SECRET is empty in production: billing webhook signature verification disabled")
		} else if err := validateSecret("STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.BackendBaseURL == "" {
			log.Warn().Msg("BACKEND_BASE_URL is empty in production: instances without a per-instance base URL cannot be reached")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 16 {
		return fmt.Errorf("%s is too short to be a real signing secret", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
