package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/drblury/eventscore/codec"
)

// EnvPrefix prefixes every environment variable, e.g. EVENTSCORE_STREAM_BACKEND.
const EnvPrefix = "EVENTSCORE"

// Unbounded lets runners process events until their context ends.
const Unbounded = -1

// Config holds everything needed to build a stream and run workers. Each
// backend only reads the keys relevant to it.
type Config struct {
	// StreamBackend selects the registered stream backend: memory, redis,
	// sqlite, postgres, kafka, nats, rabbitmq, aws or channel.
	StreamBackend string `yaml:"stream_backend" envconfig:"STREAM_BACKEND"`
	// Serializer is "json", "proto" or "cloudevents".
	Serializer string `yaml:"serializer" envconfig:"SERIALIZER"`

	RedisAddr           string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword       string `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB             int    `yaml:"redis_db" envconfig:"REDIS_DB"`
	RedisPersistCursors bool   `yaml:"redis_persist_cursors" envconfig:"REDIS_PERSIST_CURSORS"`

	KafkaBrokers []string `yaml:"kafka_brokers" envconfig:"KAFKA_BROKERS"`
	NATSURL      string   `yaml:"nats_url" envconfig:"NATS_URL"`
	RabbitMQURL  string   `yaml:"rabbitmq_url" envconfig:"RABBITMQ_URL"`

	// SQLiteFile may be ":memory:" for tests.
	SQLiteFile  string `yaml:"sqlite_file" envconfig:"SQLITE_FILE"`
	PostgresURL string `yaml:"postgres_url" envconfig:"POSTGRES_URL"`

	AWSRegion          string `yaml:"aws_region" envconfig:"AWS_REGION"`
	AWSAccountID       string `yaml:"aws_account_id" envconfig:"AWS_ACCOUNT_ID"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id" envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key" envconfig:"AWS_SECRET_ACCESS_KEY"`
	// AWSEndpoint points to a custom endpoint such as LocalStack.
	AWSEndpoint string `yaml:"aws_endpoint" envconfig:"AWS_ENDPOINT"`

	// PopTimeout bounds each blocking pop of a runner.
	PopTimeout time.Duration `yaml:"pop_timeout" envconfig:"POP_TIMEOUT"`
	// PutTimeout bounds each blocking put of the producer.
	PutTimeout time.Duration `yaml:"put_timeout" envconfig:"PUT_TIMEOUT"`
	// MaxEvents is -1 or a positive count per runner clone.
	MaxEvents int `yaml:"max_events" envconfig:"MAX_EVENTS"`

	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`

	MetricsEnabled bool `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`

	AdminEnabled bool `yaml:"admin_enabled" envconfig:"ADMIN_ENABLED"`
	AdminPort    int  `yaml:"admin_port" envconfig:"ADMIN_PORT"`
	// AdminCORSAllowedOrigins lists origins allowed to call the admin API.
	// "*" allows any origin; empty disables CORS headers.
	AdminCORSAllowedOrigins []string `yaml:"admin_cors_allowed_origins" envconfig:"ADMIN_CORS_ALLOWED_ORIGINS"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		StreamBackend: "memory",
		Serializer:    "json",
		SQLiteFile:    "eventscore.db",
		PopTimeout:    5 * time.Second,
		PutTimeout:    5 * time.Second,
		MaxEvents:     Unbounded,
		LogLevel:      "info",
		LogFormat:     "json",
		AdminPort:     8081,
	}
}

// Load starts from Default, applies the YAML file at path when path is not
// empty, then environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile overlays the YAML document at path onto c.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Getters implementing stream.Config.
func (c *Config) GetStreamBackend() string      { return c.StreamBackend }
func (c *Config) GetSerializer() string         { return c.Serializer }
func (c *Config) GetRedisAddr() string          { return c.RedisAddr }
func (c *Config) GetRedisPassword() string      { return c.RedisPassword }
func (c *Config) GetRedisDB() int               { return c.RedisDB }
func (c *Config) GetRedisPersistCursors() bool  { return c.RedisPersistCursors }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetSQLiteFile() string         { return c.SQLiteFile }
func (c *Config) GetPostgresURL() string        { return c.PostgresURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

const redacted = "***REDACTED***"

func (c Config) String() string {
	masked := c
	if masked.AWSSecretAccessKey != "" {
		masked.AWSSecretAccessKey = redacted
	}
	if masked.AWSAccessKeyID != "" {
		masked.AWSAccessKeyID = redacted
	}
	if masked.RedisPassword != "" {
		masked.RedisPassword = redacted
	}
	masked.RabbitMQURL = redactURLCredentials(masked.RabbitMQURL)
	masked.NATSURL = redactURLCredentials(masked.NATSURL)
	masked.PostgresURL = redactURLCredentials(masked.PostgresURL)
	type plain Config
	return fmt.Sprintf("%+v", plain(masked))
}

func redactURLCredentials(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "***REDACTED_URL***"
	}
	if parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(parsed.User.Username(), redacted)
		}
	}
	return parsed.String()
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.validateBackend()...)
	errs = append(errs, c.validateRunner()...)
	errs = append(errs, c.validateLogging()...)
	if _, err := codec.ByName(c.Serializer); err != nil {
		errs = append(errs, fmt.Errorf("serializer: %w", err))
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("admin: invalid port %d", c.AdminPort))
	}
	return errors.Join(errs...)
}

// Unknown backend names pass so custom backends registered by applications
// can be selected.
func (c *Config) validateBackend() []error {
	switch strings.ToLower(c.StreamBackend) {
	case "redis":
		if c.RedisAddr == "" {
			return []error{errors.New("redis: address is required")}
		}
	case "postgres":
		if c.PostgresURL == "" {
			return []error{errors.New("postgres: URL is required")}
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return []error{errors.New("kafka: brokers are required")}
		}
	case "rabbitmq":
		if c.RabbitMQURL == "" {
			return []error{errors.New("rabbitmq: URL is required")}
		}
	case "nats":
		if c.NATSURL == "" {
			return []error{errors.New("nats: URL is required")}
		}
	case "aws":
		if c.AWSRegion == "" {
			return []error{errors.New("aws: region is required")}
		}
	}
	return nil
}

func (c *Config) validateRunner() []error {
	var errs []error
	if c.PopTimeout < 0 {
		errs = append(errs, errors.New("runner: pop timeout cannot be negative"))
	}
	if c.PutTimeout < 0 {
		errs = append(errs, errors.New("runner: put timeout cannot be negative"))
	}
	if c.MaxEvents != Unbounded && c.MaxEvents <= 0 {
		errs = append(errs, fmt.Errorf("runner: max events must be -1 or positive, got %d", c.MaxEvents))
	}
	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "text", "zap":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.LogFormat))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "trace", "debug", "info", "error":
	default:
		errs = append(errs, fmt.Errorf("log: unknown level %q", c.LogLevel))
	}
	return errs
}
