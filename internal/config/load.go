package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file, searched in the working directory. Lists
	// (converters, api keys, quota overrides) can only come from here;
	// scalars can always be overridden through the environment.
	v.SetConfigName("vectorize")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/vectorize")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("VECTORIZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout_seconds", 15)

	v.SetDefault("auth.token_lifetime_minutes", 60)
	v.SetDefault("auth.default_tier", "free")

	v.SetDefault("cache.ttl_seconds", 60)
	v.SetDefault("cache.sweep_seconds", 30)
	v.SetDefault("cache.cacheable_statuses", []int{200})

	v.SetDefault("idempotency.ttl_seconds", 86400)
	v.SetDefault("idempotency.sweep_seconds", 300)

	v.SetDefault("pool.min", 1)
	v.SetDefault("pool.max", 8)
	v.SetDefault("pool.idle_timeout_seconds", 300)
	v.SetDefault("pool.acquire_timeout_seconds", 30)
	v.SetDefault("pool.max_uses", 0)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.warning_mb", 512)
	v.SetDefault("monitor.critical_mb", 768)
	v.SetDefault("monitor.emergency_mb", 1024)
	v.SetDefault("monitor.cpu_warning_pct", 85)
	v.SetDefault("monitor.max_concurrent", 256)
	v.SetDefault("monitor.sample_seconds", 5)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "./data")
}

// Environment variable reference, relative to the VECTORIZE_ prefix:
// SERVER_PORT, SERVER_LOG_LEVEL, AUTH_TOKEN_SECRET, STORAGE_BACKEND,
// STORAGE_S3_BUCKET, SENTRY_DSN, and so on following the mapstructure keys.
