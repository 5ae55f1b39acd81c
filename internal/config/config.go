package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Auth           AuthConfig           `yaml:"auth"`
	Redis          RedisConfig          `yaml:"redis"`
	NATS           NATSConfig           `yaml:"nats"`
	Relay          RelayConfig          `yaml:"relay"`
	Storage        StorageConfig        `yaml:"storage"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	Driver       string `yaml:"driver"` // "sqlx" or "memory"
	AutoMigrate  bool   `yaml:"auto_migrate"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry and logging settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"` // empty disables export
	Insecure       bool   `yaml:"insecure"`
	LogLevel       string `yaml:"log_level"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// RedisConfig holds Redis settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig holds NATS JetStream settings. An empty URL disables NATS.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// RelayConfig controls forwarding of the event log to NATS.
type RelayConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// StorageConfig selects where uploaded listing images are kept.
type StorageConfig struct {
	Driver          string `yaml:"driver"` // "local" or "s3"
	LocalDir        string `yaml:"local_dir"`
	BaseURL         string `yaml:"base_url"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
}

// RateLimitConfig limits how often a single user may bid or buy.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Load reads a YAML configuration file from the given path.
//
// A .env file next to the working directory is loaded first, if present, and
// ${VAR} references in the YAML are expanded from the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Defaults returns the configuration used for any key the file omits.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			SSLMode:      "disable",
			Driver:       "sqlx",
			AutoMigrate:  true,
			MaxOpenConns: 20,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "bazaar",
			ServiceVersion: "0.1.0",
			LogLevel:       "info",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "bazaar-relay",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Auth: AuthConfig{
			Issuer: "bazaar",
		},
		NATS: NATSConfig{
			Stream:        "BAZAAR_EVENTS",
			SubjectPrefix: "bazaar.events",
		},
		Relay: RelayConfig{
			Interval:  2 * time.Second,
			BatchSize: 100,
		},
		Storage: StorageConfig{
			Driver:         "local",
			LocalDir:       "media",
			BaseURL:        "/media",
			MaxUploadBytes: 5 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 30,
			Window:   time.Minute,
		},
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlx", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\" or \"memory\"", c.Database.Driver)
	}

	switch c.Storage.Driver {
	case "local":
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir is required for the local storage driver")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the s3 storage driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q: must be \"local\" or \"s3\"", c.Storage.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Relay.Enabled && c.NATS.URL == "" {
		return errors.New("relay.enabled requires nats.url")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("rate_limit.requests and rate_limit.window must be positive")
	}
	return nil
}
