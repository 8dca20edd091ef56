// Package config loads the GarageLink API configuration.
//
// Configuration is resolved in layers: built-in defaults, then an optional YAML
// file, then environment variables, then validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Channel drivers.
const (
	ChannelMQTT   = "mqtt"
	ChannelPubSub = "pubsub"
	ChannelMemory = "memory"
)

// DefaultSigningKey is the development JWT key. It is rejected in production.
const DefaultSigningKey = "local-dev-signing-key-change-in-production"

const minSigningKeyLength = 32

// Config is the root configuration structure.
type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Store       StoreConfig     `yaml:"store"`
	Auth        AuthConfig      `yaml:"auth"`
	Channel     ChannelConfig   `yaml:"channel"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RequireTLS      bool            `yaml:"require_tls"`
	CORS            CORSConfig      `yaml:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// RateLimitConfig contains per-caller request limits for the device routes.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectRetries  int           `yaml:"connect_retries"`
	Migrate         bool          `yaml:"migrate"`
}

// StoreConfig selects the device record store.
type StoreConfig struct {
	Driver string `yaml:"driver"`

	// SeedDevices are pre-registered as unclaimed at startup if missing.
	SeedDevices []string `yaml:"seed_devices"`
}

// AuthConfig contains caller identity settings.
type AuthConfig struct {
	JWT               JWTConfig     `yaml:"jwt"`
	DirectoryCacheTTL time.Duration `yaml:"directory_cache_ttl"`
}

// JWTConfig contains bearer token validation settings.
type JWTConfig struct {
	SigningKey string `yaml:"signing_key"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// ChannelConfig selects and configures the command channel.
type ChannelConfig struct {
	Driver         string        `yaml:"driver"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	MQTT           MQTTConfig    `yaml:"mqtt"`
	PubSub         PubSubConfig  `yaml:"pubsub"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// PubSubConfig contains Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

// BreakerConfig contains circuit breaker settings for the command channel.
type BreakerConfig struct {
	MaxRequests uint32        `yaml:"max_requests"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TelemetryConfig contains OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// An empty path skips the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used for local development.
func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedOrigins: []string{"https://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
			},
			RateLimit: RateLimitConfig{RequestsPerMinute: 60},
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "garagelink",
			Password:        "localdev",
			Name:            "garagelink",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectRetries:  5,
			Migrate:         true,
		},
		Store: StoreConfig{Driver: StorePostgres},
		Auth: AuthConfig{
			JWT:               JWTConfig{SigningKey: DefaultSigningKey},
			DirectoryCacheTTL: time.Minute,
		},
		Channel: ChannelConfig{
			Driver:         ChannelMQTT,
			TopicPrefix:    "garage",
			PublishTimeout: 5 * time.Second,
			MQTT: MQTTConfig{
				Broker: MQTTBrokerConfig{
					Host:     "localhost",
					Port:     1883,
					ClientID: "garagelink-api",
				},
				QoS: 0,
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
				},
			},
			Breaker: BreakerConfig{
				MaxRequests: 1,
				Timeout:     30 * time.Second,
			},
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Environment, "APP_ENV")
	setInt(&cfg.Server.Port, "APP_PORT")
	if v := os.Getenv("REQUIRE_TLS"); v != "" {
		cfg.Server.RequireTLS = v == "true"
	}

	// Database
	setString(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Name, "DB_NAME")
	setString(&cfg.Database.SSLMode, "DB_SSL_MODE")
	setInt(&cfg.Database.MaxOpenConns, "DB_MAX_OPEN_CONNS")
	setInt(&cfg.Database.MaxIdleConns, "DB_MAX_IDLE_CONNS")
	if v := os.Getenv("DB_CONN_MAX_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Database.ConnMaxLifetime = d
		}
	}

	// Auth (always override the signing key in production)
	setString(&cfg.Auth.JWT.SigningKey, "JWT_SIGNING_KEY")
	setString(&cfg.Auth.JWT.Issuer, "GARAGELINK_JWT_ISSUER")
	setString(&cfg.Auth.JWT.Audience, "GARAGELINK_JWT_AUDIENCE")

	// Telemetry
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true"
	}
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	// Store and channel
	setString(&cfg.Store.Driver, "GARAGELINK_STORE_DRIVER")
	if v := os.Getenv("GARAGELINK_SEED_DEVICES"); v != "" {
		cfg.Store.SeedDevices = splitList(v)
	}
	setString(&cfg.Channel.Driver, "GARAGELINK_CHANNEL_DRIVER")
	setString(&cfg.Channel.TopicPrefix, "GARAGELINK_TOPIC_PREFIX")
	setString(&cfg.Channel.MQTT.Broker.Host, "GARAGELINK_MQTT_HOST")
	setInt(&cfg.Channel.MQTT.Broker.Port, "GARAGELINK_MQTT_PORT")
	setString(&cfg.Channel.MQTT.Auth.Username, "GARAGELINK_MQTT_USERNAME")
	setString(&cfg.Channel.MQTT.Auth.Password, "GARAGELINK_MQTT_PASSWORD")
	setString(&cfg.Channel.PubSub.ProjectID, "GARAGELINK_PUBSUB_PROJECT")
	setString(&cfg.Channel.PubSub.TopicID, "GARAGELINK_PUBSUB_TOPIC")

	if v := os.Getenv("GARAGELINK_CORS_ORIGINS"); v != "" {
		cfg.Server.CORS.AllowedOrigins = splitList(v)
	}

	setString(&cfg.Logging.Level, "GARAGELINK_LOG_LEVEL")
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch c.Store.Driver {
	case StorePostgres:
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres store")
		}
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for the postgres store")
		}
		if c.Database.MaxOpenConns < 1 {
			errs = append(errs, "database.max_open_conns must be at least 1")
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or memory", c.Store.Driver))
	}

	switch c.Channel.Driver {
	case ChannelMQTT:
		if c.Channel.MQTT.Broker.Host == "" {
			errs = append(errs, "channel.mqtt.broker.host is required for the mqtt channel")
		}
		if c.Channel.MQTT.QoS < 0 || c.Channel.MQTT.QoS > 2 {
			errs = append(errs, "channel.mqtt.qos must be 0, 1, or 2")
		}
	case ChannelPubSub:
		if c.Channel.PubSub.ProjectID == "" || c.Channel.PubSub.TopicID == "" {
			errs = append(errs, "channel.pubsub.project_id and channel.pubsub.topic_id are required for the pubsub channel")
		}
	case ChannelMemory:
	default:
		errs = append(errs, fmt.Sprintf("channel.driver %q must be mqtt, pubsub or memory", c.Channel.Driver))
	}

	// A forged token opens garage doors, so production refuses weak or default keys.
	if c.Auth.JWT.SigningKey == "" {
		errs = append(errs, "auth.jwt.signing_key is required (set JWT_SIGNING_KEY)")
	} else if c.IsProduction() {
		if c.Auth.JWT.SigningKey == DefaultSigningKey {
			errs = append(errs, "auth.jwt.signing_key must not be the development default in production")
		} else if len(c.Auth.JWT.SigningKey) < minSigningKeyLength {
			errs = append(errs, "auth.jwt.signing_key must be at least 32 characters in production")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not a known level", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsProduction reports whether the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
