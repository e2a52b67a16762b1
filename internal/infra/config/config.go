package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App         AppSettings         `mapstructure:"app"`
	Postgres    PostgresSettings    `mapstructure:"postgres"`
	Redis       RedisSettings       `mapstructure:"redis"`
	Kafka       KafkaSettings       `mapstructure:"kafka"`
	SMTP        SMTPSettings        `mapstructure:"smtp"`
	Auth        AuthSettings        `mapstructure:"auth"`
	TwoFactor   TwoFactorSettings   `mapstructure:"twofactor"`
	Telemetry   TelemetrySettings   `mapstructure:"telemetry"`
	RateLimit   RateLimitSettings   `mapstructure:"rate_limit"`
	Maintenance MaintenanceSettings `mapstructure:"maintenance"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS.
type RedisSettings struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	DB                 int           `mapstructure:"db"`
	Password           string        `mapstructure:"password"`
	TLSEnabled         bool          `mapstructure:"tls_enabled"`
	PendingLoginPrefix string        `mapstructure:"pending_login_prefix"`
	PendingLoginTTL    time.Duration `mapstructure:"pending_login_ttl"`
	LockoutPrefix      string        `mapstructure:"lockout_prefix"`
	ReplayGuardPrefix  string        `mapstructure:"replay_guard_prefix"`
	SessionPrefix      string        `mapstructure:"session_prefix"`
	SessionTTL         time.Duration `mapstructure:"session_ttl"`
}

// KafkaSettings configures the audit event producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// SMTPSettings configures the outbound mailer.
type SMTPSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// AuthSettings configures magic-link token issuance.
type AuthSettings struct {
	// ServerSecret keys the token hash and signs pending-login references.
	ServerSecret string        `mapstructure:"server_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	// BaseURL is the externally reachable origin used to build magic links.
	BaseURL string `mapstructure:"base_url"`
	// DefaultRedirect receives users after login when no explicit target is set.
	DefaultRedirect string `mapstructure:"default_redirect"`
	// RoleRedirects maps a role name to its post-login landing path.
	RoleRedirects map[string]string `mapstructure:"role_redirects"`
}

// TwoFactorSettings configures TOTP enforcement policy.
type TwoFactorSettings struct {
	Enabled          bool          `mapstructure:"enabled"`
	EmergencyDisable bool          `mapstructure:"emergency_disable"`
	RequiredRoles    []string      `mapstructure:"required_roles"`
	GracePeriodDays  int           `mapstructure:"grace_period_days"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`
	PendingTTL       time.Duration `mapstructure:"pending_ttl"`
	Issuer           string        `mapstructure:"issuer"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// RateLimitSettings configures sliding-window limits per endpoint.
type RateLimitSettings struct {
	WindowDuration          time.Duration `mapstructure:"window_duration"`
	LoginRequestMaxAttempts int           `mapstructure:"login_request_max_attempts"`
	VerifyMaxAttempts       int           `mapstructure:"verify_max_attempts"`
}

// MaintenanceSettings configures the background cleanup job.
type MaintenanceSettings struct {
	Interval time.Duration `mapstructure:"interval"`
}

// lockoutDurations enumerates the accepted lockout windows.
var lockoutDurations = []time.Duration{
	5 * time.Minute,
	10 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("MAGIC")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.pending_login_prefix",
		"redis.pending_login_ttl",
		"redis.lockout_prefix",
		"redis.replay_guard_prefix",
		"redis.session_prefix",
		"redis.session_ttl",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"smtp.host",
		"smtp.port",
		"smtp.username",
		"smtp.password",
		"smtp.from",
		"auth.server_secret",
		"auth.token_ttl",
		"auth.base_url",
		"auth.default_redirect",
		"twofactor.enabled",
		"twofactor.emergency_disable",
		"twofactor.required_roles",
		"twofactor.grace_period_days",
		"twofactor.max_attempts",
		"twofactor.lockout_duration",
		"twofactor.pending_ttl",
		"twofactor.issuer",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.login_request_max_attempts",
		"rate_limit.verify_max_attempts",
		"maintenance.interval",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	normalize(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "magiclink-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "magiclink")
	v.SetDefault("postgres.password", "magiclink_password")
	v.SetDefault("postgres.database", "magiclink")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.pending_login_prefix", "magic:pending_login")
	v.SetDefault("redis.pending_login_ttl", "5m")
	v.SetDefault("redis.lockout_prefix", "magic:lockout")
	v.SetDefault("redis.replay_guard_prefix", "magic:totp_step")
	v.SetDefault("redis.session_prefix", "magic:session")
	v.SetDefault("redis.session_ttl", "12h")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "magic")
	v.SetDefault("kafka.async", true)

	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "login@example.com")

	v.SetDefault("auth.server_secret", "")
	v.SetDefault("auth.token_ttl", "600s")
	v.SetDefault("auth.base_url", "http://localhost:8080")
	v.SetDefault("auth.default_redirect", "/")

	v.SetDefault("twofactor.enabled", true)
	v.SetDefault("twofactor.emergency_disable", false)
	v.SetDefault("twofactor.required_roles", []string{})
	v.SetDefault("twofactor.grace_period_days", 10)
	v.SetDefault("twofactor.max_attempts", 5)
	v.SetDefault("twofactor.lockout_duration", "15m")
	v.SetDefault("twofactor.pending_ttl", "5m")
	v.SetDefault("twofactor.issuer", "magiclink-service")

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "magiclink-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_request_max_attempts", 5)
	v.SetDefault("rate_limit.verify_max_attempts", 10)

	v.SetDefault("maintenance.interval", "10m")
}

// normalize clamps policy values into their documented ranges.
func normalize(cfg *AppConfig) {
	if cfg.TwoFactor.GracePeriodDays < 1 {
		cfg.TwoFactor.GracePeriodDays = 1
	}
	if cfg.TwoFactor.GracePeriodDays > 30 {
		cfg.TwoFactor.GracePeriodDays = 30
	}

	if cfg.TwoFactor.MaxAttempts < 3 {
		cfg.TwoFactor.MaxAttempts = 3
	}
	if cfg.TwoFactor.MaxAttempts > 10 {
		cfg.TwoFactor.MaxAttempts = 10
	}

	if !allowedLockoutDuration(cfg.TwoFactor.LockoutDuration) {
		cfg.TwoFactor.LockoutDuration = 15 * time.Minute
	}

	if cfg.TwoFactor.PendingTTL <= 0 {
		cfg.TwoFactor.PendingTTL = 5 * time.Minute
	}

	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 600 * time.Second
	}
}

func allowedLockoutDuration(d time.Duration) bool {
	for _, candidate := range lockoutDurations {
		if d == candidate {
			return true
		}
	}
	return false
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "MAGIC_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
