package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	OpenAI    OpenAIConfig
	Quota     QuotaConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig configures the usage event stream. An empty URL disables it.
type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	AccessSecret string
	Issuer       string
}

type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	ChatModel          string
	TranscriptionModel string
	Timeout            time.Duration
}

// LimitsConfig holds per-period allowances; zero means the period is not tracked.
type LimitsConfig struct {
	Daily   int
	Weekly  int
	Monthly int
}

type QuotaConfig struct {
	Store      string // "redis" or "postgres"
	Timezone   string
	MaxRetries int
	Programme  LimitsConfig
	Analysis   LimitsConfig
	Voice      LimitsConfig
}

type RateLimitConfig struct {
	Requests  int
	WindowSec int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
			Issuer:       k.String("jwt.issuer"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             k.String("openai.api.key"),
			BaseURL:            k.String("openai.base.url"),
			ChatModel:          k.String("openai.chat.model"),
			TranscriptionModel: k.String("openai.transcription.model"),
		},
		Quota: QuotaConfig{
			Store:      k.String("quota.store"),
			Timezone:   k.String("quota.timezone"),
			MaxRetries: k.Int("quota.max.retries"),
			Programme: LimitsConfig{
				Daily:   k.Int("quota.programme.daily"),
				Weekly:  k.Int("quota.programme.weekly"),
				Monthly: k.Int("quota.programme.monthly"),
			},
			Analysis: LimitsConfig{
				Monthly: k.Int("quota.analysis.monthly"),
			},
			Voice: LimitsConfig{
				Daily:   k.Int("quota.voice.daily"),
				Weekly:  k.Int("quota.voice.weekly"),
				Monthly: k.Int("quota.voice.monthly"),
			},
		},
		RateLimit: RateLimitConfig{
			Requests:  k.Int("ratelimit.requests"),
			WindowSec: k.Int("ratelimit.window.sec"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	if origins := k.String("cors.allowed.origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}

	applyDefaults(cfg)

	timeoutStr := k.String("openai.timeout")
	if timeoutStr == "" {
		timeoutStr = "60s"
	}
	cfg.OpenAI.Timeout, err = time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing openai timeout: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "liftlog"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "liftlog"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "liftlog"
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.OpenAI.ChatModel == "" {
		cfg.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if cfg.OpenAI.TranscriptionModel == "" {
		cfg.OpenAI.TranscriptionModel = "whisper-1"
	}
	if cfg.Quota.Store == "" {
		cfg.Quota.Store = "redis"
	}
	if cfg.Quota.Timezone == "" {
		cfg.Quota.Timezone = "UTC"
	}
	if cfg.Quota.MaxRetries == 0 {
		cfg.Quota.MaxRetries = 5
	}
	if cfg.Quota.Programme == (LimitsConfig{}) {
		cfg.Quota.Programme = LimitsConfig{Daily: 10, Weekly: 35, Monthly: 50}
	}
	if cfg.Quota.Analysis == (LimitsConfig{}) {
		cfg.Quota.Analysis = LimitsConfig{Monthly: 10}
	}
	if cfg.Quota.Voice == (LimitsConfig{}) {
		cfg.Quota.Voice = LimitsConfig{Daily: 50, Weekly: 200, Monthly: 500}
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 60
	}
	if cfg.RateLimit.WindowSec == 0 {
		cfg.RateLimit.WindowSec = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
