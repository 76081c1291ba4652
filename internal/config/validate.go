package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	if c.OpenAI.APIKey == "" {
		errs = append(errs, "OPENAI_API_KEY is required")
	}
	if c.OpenAI.Timeout <= 0 {
		errs = append(errs, "OPENAI_TIMEOUT must be positive")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Quota ledger
	switch c.Quota.Store {
	case "redis":
	case "postgres":
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required when QUOTA_STORE=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("QUOTA_STORE must be redis or postgres, got %q", c.Quota.Store))
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("QUOTA_TIMEZONE %q is not a known timezone", c.Quota.Timezone))
	}
	if c.Quota.MaxRetries < 1 {
		errs = append(errs, "QUOTA_MAX_RETRIES must be at least 1")
	}
	errs = append(errs, validateLimits("QUOTA_PROGRAMME", c.Quota.Programme)...)
	errs = append(errs, validateLimits("QUOTA_ANALYSIS", c.Quota.Analysis)...)
	errs = append(errs, validateLimits("QUOTA_VOICE", c.Quota.Voice)...)

	if c.RateLimit.Requests < 1 || c.RateLimit.WindowSec < 1 {
		errs = append(errs, "RATELIMIT_REQUESTS and RATELIMIT_WINDOW_SEC must be positive")
	}

	// Usage event stream: optional, but its log lives in Postgres
	if c.NATS.URL == "" {
		slog.Warn("NATS_URL is empty, quota events will not be recorded")
	} else if c.Quota.Store != "postgres" && c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required when NATS_URL is set")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

func validateLimits(prefix string, l LimitsConfig) []string {
	var errs []string
	if l.Daily < 0 || l.Weekly < 0 || l.Monthly < 0 {
		errs = append(errs, prefix+"_* limits must not be negative")
	}
	if l.Daily == 0 && l.Weekly == 0 && l.Monthly == 0 {
		errs = append(errs, prefix+" must track at least one period")
	}
	return errs
}
