package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Admission   AdmissionConfig   `mapstructure:"admission"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Pool        PoolConfig        `mapstructure:"pool"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Storage     StorageConfig     `mapstructure:"storage" validate:"required"`
	Converters  []ConverterConfig `mapstructure:"converters" validate:"omitempty,dive"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                   int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel               string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"gte=0"`
}

// AuthConfig contains authentication settings. An empty token secret
// disables bearer-token auth; API keys and the anonymous free tier still
// work.
type AuthConfig struct {
	TokenSecret          string         `mapstructure:"token_secret" validate:"omitempty,min=32"`
	TokenLifetimeMinutes int            `mapstructure:"token_lifetime_minutes" validate:"gte=0"`
	DefaultTier          string         `mapstructure:"default_tier" validate:"required"`
	APIKeys              []APIKeyConfig `mapstructure:"api_keys" validate:"omitempty,dive"`
}

// APIKeyConfig is one provisioned API key: id, bcrypt hash of the secret
// half, and the granted tier.
type APIKeyConfig struct {
	ID         string `mapstructure:"id" validate:"required"`
	SecretHash string `mapstructure:"secret_hash" validate:"required"`
	Tier       string `mapstructure:"tier" validate:"required"`
}

// AdmissionConfig overrides the built-in tier quota table. Tiers left out
// keep their defaults.
type AdmissionConfig struct {
	Quotas map[string]QuotaConfig `mapstructure:"quotas" validate:"omitempty,dive"`
}

// QuotaConfig is the per-tier quota override.
type QuotaConfig struct {
	Requests      int `mapstructure:"requests" validate:"gt=0"`
	Uploads       int `mapstructure:"uploads" validate:"gt=0"`
	Conversions   int `mapstructure:"conversions" validate:"gt=0"`
	WindowSeconds int `mapstructure:"window_seconds" validate:"gt=0"`
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gt=0"`
}

// CacheConfig contains response cache settings. CacheableStatuses lists the
// response codes stored on a miss; empty means 200 only.
type CacheConfig struct {
	TTLSeconds        int   `mapstructure:"ttl_seconds" validate:"gt=0"`
	SweepSeconds      int   `mapstructure:"sweep_seconds" validate:"gt=0"`
	CacheableStatuses []int `mapstructure:"cacheable_statuses" validate:"omitempty,dive,gte=100,lt=600"`
}

// IdempotencyConfig contains idempotency record retention settings.
type IdempotencyConfig struct {
	TTLSeconds   int `mapstructure:"ttl_seconds" validate:"gt=0"`
	SweepSeconds int `mapstructure:"sweep_seconds" validate:"gt=0"`
}

// PoolConfig sizes the converter slot pool. Max of zero disables the pool
// and leaves converter concurrency unbounded.
type PoolConfig struct {
	Min                   int `mapstructure:"min" validate:"gte=0"`
	Max                   int `mapstructure:"max" validate:"gte=0"`
	IdleTimeoutSeconds    int `mapstructure:"idle_timeout_seconds" validate:"gte=0"`
	AcquireTimeoutSeconds int `mapstructure:"acquire_timeout_seconds" validate:"gte=0"`
	MaxUses               int `mapstructure:"max_uses" validate:"gte=0"`
}

// MonitorConfig contains resource monitor thresholds and the admission
// throttle width.
type MonitorConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	WarningMB     float64 `mapstructure:"warning_mb" validate:"gte=0"`
	CriticalMB    float64 `mapstructure:"critical_mb" validate:"gte=0"`
	EmergencyMB   float64 `mapstructure:"emergency_mb" validate:"gte=0"`
	CPUWarningPct float64 `mapstructure:"cpu_warning_pct" validate:"gte=0,lte=100"`
	MaxConcurrent int     `mapstructure:"max_concurrent" validate:"gt=0"`
	SampleSeconds int     `mapstructure:"sample_seconds" validate:"gt=0"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Backend  string   `mapstructure:"backend" validate:"required,oneof=local s3"`
	LocalDir string   `mapstructure:"local_dir" validate:"required_if=Backend local"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config contains S3-compatible bucket settings (AWS, R2, MinIO).
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// ConverterConfig describes one external conversion tool.
type ConverterConfig struct {
	Name           string   `mapstructure:"name" validate:"required"`
	Binary         string   `mapstructure:"binary" validate:"required"`
	Args           []string `mapstructure:"args"`
	OutputExt      string   `mapstructure:"output_ext" validate:"required"`
	ContentType    string   `mapstructure:"content_type" validate:"required"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds" validate:"gt=0"`
	AllowedParams  []string `mapstructure:"allowed_params"`
	BaseTimeMs     int      `mapstructure:"base_time_ms" validate:"gte=0"`
	TimePerMBMs    int      `mapstructure:"time_per_mb_ms" validate:"gte=0"`
}

// SentryConfig contains error reporting settings. An empty DSN disables
// reporting.
type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}
