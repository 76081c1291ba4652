package config

import (
	"testing"
	"time"
)

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("QUOTA_STORE", "postgres")
	t.Setenv("QUOTA_TIMEZONE", "America/New_York")
	t.Setenv("QUOTA_PROGRAMME_DAILY", "3")
	t.Setenv("QUOTA_PROGRAMME_WEEKLY", "7")
	t.Setenv("QUOTA_PROGRAMME_MONTHLY", "20")
	t.Setenv("OPENAI_TIMEOUT", "45s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.liftlog.io, https://admin.liftlog.io")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Quota.Store != "postgres" || cfg.Quota.Timezone != "America/New_York" {
		t.Errorf("unexpected quota config: %+v", cfg.Quota)
	}
	if cfg.Quota.Programme != (LimitsConfig{Daily: 3, Weekly: 7, Monthly: 20}) {
		t.Errorf("Quota.Programme = %+v", cfg.Quota.Programme)
	}
	if cfg.Quota.Analysis != (LimitsConfig{Monthly: 10}) {
		t.Errorf("Quota.Analysis should fall back to defaults, got %+v", cfg.Quota.Analysis)
	}
	if cfg.OpenAI.Timeout != 45*time.Second {
		t.Errorf("OpenAI.Timeout = %v, want 45s", cfg.OpenAI.Timeout)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://admin.liftlog.io" {
		t.Errorf("CORS.AllowedOrigins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_BadTimeout(t *testing.T) {
	t.Setenv("OPENAI_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable OPENAI_TIMEOUT")
	}
}
