package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken   string            `yaml:"discord_token"`
	DatabaseDriver string            `yaml:"database_driver"`
	DatabaseDSN    string            `yaml:"database_dsn"`
	RedisURL       string            `yaml:"redis_url"`
	LogLevel       string            `yaml:"log_level"`
	Health         HealthConfig      `yaml:"health"`
	Sweeps         SweepConfig       `yaml:"sweeps"`
	PolicyCache    PolicyCacheConfig `yaml:"policy_cache"`
	Enforcement    EnforcementConfig `yaml:"enforcement"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type SweepConfig struct {
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
	IdleGrace            time.Duration `yaml:"idle_grace"`
	TimeoutCheckInterval time.Duration `yaml:"timeout_check_interval"`
	TimeoutRetentionDays int           `yaml:"timeout_retention_days"`
}

type PolicyCacheConfig struct {
	Size       int `yaml:"size"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

type EnforcementConfig struct {
	DefaultTimeoutMinutes int     `yaml:"default_timeout_minutes"`
	NoticeDeleteSeconds   int     `yaml:"notice_delete_seconds"`
	DMPerSecond           float64 `yaml:"dm_per_second"`
}

func DefaultConfig() Config {
	return Config{
		DatabaseDriver: "sqlite",
		DatabaseDSN:    "/data/sentinel.db",
		LogLevel:       "info",
		Health:         HealthConfig{Enabled: false, Addr: ":8080"},
		Sweeps: SweepConfig{
			CleanupInterval:      time.Hour,
			IdleGrace:            10 * time.Minute,
			TimeoutCheckInterval: 10 * time.Second,
			TimeoutRetentionDays: 30,
		},
		PolicyCache: PolicyCacheConfig{Size: 1024, TTLSeconds: 60},
		Enforcement: EnforcementConfig{
			DefaultTimeoutMinutes: 10,
			NoticeDeleteSeconds:   5,
			DMPerSecond:           5,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.DatabaseDriver = normalizeDriver(cfg.DatabaseDriver)
	applyFloors(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabaseDriver = envString("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseDSN = envString("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.RedisURL = envString("REDIS_URL", cfg.RedisURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Sweeps.CleanupInterval = envDuration("CLEANUP_INTERVAL", cfg.Sweeps.CleanupInterval)
	cfg.Sweeps.IdleGrace = envDuration("IDLE_GRACE", cfg.Sweeps.IdleGrace)
	cfg.Sweeps.TimeoutCheckInterval = envDuration("TIMEOUT_CHECK_INTERVAL", cfg.Sweeps.TimeoutCheckInterval)
	cfg.Sweeps.TimeoutRetentionDays = envInt("TIMEOUT_RETENTION_DAYS", cfg.Sweeps.TimeoutRetentionDays)
	cfg.PolicyCache.Size = envInt("POLICY_CACHE_SIZE", cfg.PolicyCache.Size)
	cfg.PolicyCache.TTLSeconds = envInt("POLICY_CACHE_TTL_SECONDS", cfg.PolicyCache.TTLSeconds)
	cfg.Enforcement.DefaultTimeoutMinutes = envInt("DEFAULT_TIMEOUT_MINUTES", cfg.Enforcement.DefaultTimeoutMinutes)
	cfg.Enforcement.NoticeDeleteSeconds = envInt("NOTICE_DELETE_SECONDS", cfg.Enforcement.NoticeDeleteSeconds)
	cfg.Enforcement.DMPerSecond = envFloat("DM_PER_SECOND", cfg.Enforcement.DMPerSecond)
}

func applyFloors(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Sweeps.CleanupInterval <= 0 {
		cfg.Sweeps.CleanupInterval = defaults.Sweeps.CleanupInterval
	}
	if cfg.Sweeps.IdleGrace <= 0 {
		cfg.Sweeps.IdleGrace = defaults.Sweeps.IdleGrace
	}
	if cfg.Sweeps.TimeoutCheckInterval <= 0 {
		cfg.Sweeps.TimeoutCheckInterval = defaults.Sweeps.TimeoutCheckInterval
	}
	if cfg.Sweeps.TimeoutRetentionDays <= 0 {
		cfg.Sweeps.TimeoutRetentionDays = defaults.Sweeps.TimeoutRetentionDays
	}
	if cfg.PolicyCache.Size <= 0 {
		cfg.PolicyCache.Size = defaults.PolicyCache.Size
	}
	if cfg.Enforcement.DefaultTimeoutMinutes <= 0 {
		cfg.Enforcement.DefaultTimeoutMinutes = defaults.Enforcement.DefaultTimeoutMinutes
	}
	if cfg.Enforcement.NoticeDeleteSeconds <= 0 {
		cfg.Enforcement.NoticeDeleteSeconds = defaults.Enforcement.NoticeDeleteSeconds
	}
}

func (c Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Enforcement.DefaultTimeoutMinutes) * time.Minute
}

func (c Config) NoticeDelay() time.Duration {
	return time.Duration(c.Enforcement.NoticeDeleteSeconds) * time.Second
}

func (c Config) PolicyTTL() time.Duration {
	return time.Duration(c.PolicyCache.TTLSeconds) * time.Second
}

func (c Config) TimeoutRetention() time.Duration {
	return time.Duration(c.Sweeps.TimeoutRetentionDays) * 24 * time.Hour
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "pgx", "postgres", "postgresql":
		return "pgx"
	default:
		return "sqlite"
	}
}
