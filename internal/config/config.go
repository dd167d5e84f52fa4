package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	SLA        SLAConfig
	Escalation EscalationConfig
	Outbox     OutboxConfig
	Notify     NotifyConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token verification parameters. Token issuance and
// credential management belong to the identity service.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// SLAConfig holds default deadlines and soft caps for ticket counters.
// Caps are visibility thresholds, not hard limits.
type SLAConfig struct {
	DefaultAckHours        int
	DefaultResolutionHours int
	MaxTATExtensions       int
	MaxReopens             int
	MaxForwards            int
}

// EscalationConfig drives the breach scanner.
type EscalationConfig struct {
	IntervalSeconds   int
	RunTimeoutSeconds int
	// FallbackEscalateTo receives notifications when no rule matches.
	FallbackEscalateTo string
	DefaultChannel     string
}

// OutboxConfig drives the notification dispatcher.
type OutboxConfig struct {
	IntervalSeconds    int
	RunTimeoutSeconds  int
	BatchSize          int
	MaxAttempts        int
	SendTimeoutSeconds int
	RetryBaseSeconds   int
}

// NotifyConfig holds external notification endpoints.
type NotifyConfig struct {
	WebhookURL string
	EmailFrom  string
	SMTPAddr   string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "campus-helpdesk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		SLA: SLAConfig{
			DefaultAckHours:        getEnvAsInt("SLA_DEFAULT_ACK_HOURS", 24),
			DefaultResolutionHours: getEnvAsInt("SLA_DEFAULT_RESOLUTION_HOURS", 72),
			MaxTATExtensions:       getEnvAsInt("SLA_MAX_TAT_EXTENSIONS", 3),
			MaxReopens:             getEnvAsInt("SLA_MAX_REOPENS", 3),
			MaxForwards:            getEnvAsInt("SLA_MAX_FORWARDS", 3),
		},
		Escalation: EscalationConfig{
			IntervalSeconds:    getEnvAsInt("ESCALATION_INTERVAL_SECONDS", 300),
			RunTimeoutSeconds:  getEnvAsInt("ESCALATION_RUN_TIMEOUT_SECONDS", 60),
			FallbackEscalateTo: getEnv("ESCALATION_FALLBACK_TARGET", "helpdesk-admin"),
			DefaultChannel:     getEnv("ESCALATION_DEFAULT_CHANNEL", "webhook"),
		},
		Outbox: OutboxConfig{
			IntervalSeconds:    getEnvAsInt("OUTBOX_INTERVAL_SECONDS", 15),
			RunTimeoutSeconds:  getEnvAsInt("OUTBOX_RUN_TIMEOUT_SECONDS", 30),
			BatchSize:          getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:        getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 3),
			SendTimeoutSeconds: getEnvAsInt("OUTBOX_SEND_TIMEOUT_SECONDS", 5),
			RetryBaseSeconds:   getEnvAsInt("OUTBOX_RETRY_BASE_SECONDS", 30),
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "helpdesk@example.edu"),
			SMTPAddr:   getEnv("NOTIFY_SMTP_ADDR", ""),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Interval returns the scan cadence.
func (e EscalationConfig) Interval() time.Duration {
	return time.Duration(e.IntervalSeconds) * time.Second
}

// RunTimeout returns the per-run deadline for a scan.
func (e EscalationConfig) RunTimeout() time.Duration {
	return time.Duration(e.RunTimeoutSeconds) * time.Second
}

// Interval returns the dispatch cadence.
func (o OutboxConfig) Interval() time.Duration {
	return time.Duration(o.IntervalSeconds) * time.Second
}

// RunTimeout returns the per-run deadline for a flush.
func (o OutboxConfig) RunTimeout() time.Duration {
	return time.Duration(o.RunTimeoutSeconds) * time.Second
}

// SendTimeout bounds one external sender call.
func (o OutboxConfig) SendTimeout() time.Duration {
	return time.Duration(o.SendTimeoutSeconds) * time.Second
}

// RetryBase is the first retry delay; doubled per attempt.
func (o OutboxConfig) RetryBase() time.Duration {
	return time.Duration(o.RetryBaseSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
