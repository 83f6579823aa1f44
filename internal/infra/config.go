package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration of the audit starter and its host service.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

type AppConfig struct {
	Name string `mapstructure:"name"` // stamped into every audit record
}

// ServerConfig describes the host HTTP server.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuditConfig drives both interceptors and the publisher.
type AuditConfig struct {
	Channel   string `mapstructure:"channel"`
	Transport string `mapstructure:"transport"` // kafka, redis, postgres, http, log
	// ServiceURL is the base URL of the audit collector; the http transport posts to ServiceURL + "/response".
	ServiceURL       string `mapstructure:"service_url"`
	LogHeaders       bool   `mapstructure:"log_headers"`
	UseContentLength bool   `mapstructure:"use_content_length"`
	LogOnce          bool   `mapstructure:"log_once"`
	// IgnorePatterns is a comma separated list of path globs, e.g. "/health,/metrics,/static/**".
	IgnorePatterns string        `mapstructure:"ignore_patterns"`
	Async          bool          `mapstructure:"async"`
	QueueSize      int           `mapstructure:"queue_size"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	RedactHeaders  []string      `mapstructure:"redact_headers"`
	RedactedValue  string        `mapstructure:"redacted_value"`
}

// KafkaConfig describes the broker connection used by the kafka transport.
type KafkaConfig struct {
	Brokers            []string      `mapstructure:"brokers"`
	ClientID           string        `mapstructure:"client_id"`
	TrustStoreLocation string        `mapstructure:"trust_store_location"`
	TrustStorePassword string        `mapstructure:"trust_store_password"`
	ConnectAttempts    uint          `mapstructure:"connect_attempts"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig describes the redis transport.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig describes the postgres transport, which stores records in the audit_logs table.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// AuthConfig points to the RSA public key used to resolve the request principal.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
}

// BreakerConfig protects the request path from a slow or failing transport.
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	RateLimit           float64       `mapstructure:"rate_limit"` // records per second, 0 disables
	Burst               int           `mapstructure:"burst"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig merges config.yaml (when present), environment variables and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// AUDIT_LOG_HEADERS=true overrides audit.log_headers
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the starter cannot wire.
func (c *Config) Validate() error {
	switch c.Audit.Transport {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("config: kafka transport requires kafka.brokers")
		}
	case "http":
		if c.Audit.ServiceURL == "" {
			return errors.New("config: http transport requires audit.service_url")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("config: redis transport requires redis.addr")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("config: postgres transport requires postgres.dsn")
		}
	case "log":
	default:
		return fmt.Errorf("config: unknown audit.transport %q", c.Audit.Transport)
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("config: audit.queue_size must be positive, got %d", c.Audit.QueueSize)
	}
	return nil
}

// IgnorePatternList splits the comma separated ignore patterns.
func (c AuditConfig) IgnorePatternList() []string {
	var out []string
	for _, p := range strings.Split(c.IgnorePatterns, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// setDefaults lists every key: keys without a default are invisible to AutomaticEnv during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "-")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("audit.channel", "audit_logger")
	v.SetDefault("audit.transport", "kafka")
	v.SetDefault("audit.service_url", "http://localhost:8500")
	v.SetDefault("audit.log_headers", false)
	v.SetDefault("audit.use_content_length", true)
	v.SetDefault("audit.log_once", false)
	v.SetDefault("audit.ignore_patterns", "")
	v.SetDefault("audit.async", true)
	v.SetDefault("audit.queue_size", 10000)
	v.SetDefault("audit.publish_timeout", 3*time.Second)
	v.SetDefault("audit.redact_headers", []string{"Authorization", "Proxy-Authorization", "Cookie", "Set-Cookie"})
	v.SetDefault("audit.redacted_value", "[REDACTED]")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "audit-logger")
	v.SetDefault("kafka.connect_attempts", 3)
	v.SetDefault("kafka.connect_timeout", 5*time.Second)
	v.SetDefault("kafka.trust_store_location", "")
	v.SetDefault("kafka.trust_store_password", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("auth.public_key_path", "")

	v.SetDefault("breaker.max_requests", 3)
	v.SetDefault("breaker.interval", 5*time.Second)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.consecutive_failures", 5)
	v.SetDefault("breaker.rate_limit", 0)
	v.SetDefault("breaker.burst", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
