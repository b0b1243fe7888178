package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	AWS      AWSConfig      `yaml:"aws"`
	APNs     APNsConfig     `yaml:"apns"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Pairing  PairingConfig  `yaml:"pairing"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port" env:"WESAL_SERVER_PORT"`
	Host string `yaml:"host" env:"WESAL_SERVER_HOST"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"WESAL_DB_HOST"`
	Port     int    `yaml:"port" env:"WESAL_DB_PORT"`
	User     string `yaml:"user" env:"WESAL_DB_USER"`
	Password string `yaml:"password" env:"WESAL_DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"WESAL_DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"WESAL_DB_SSLMODE"`
	Migrate  bool   `yaml:"migrate" env:"WESAL_DB_MIGRATE"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret" env:"WESAL_JWT_SECRET"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level" env:"WESAL_LOG_LEVEL"`
}

// RedisConfig enables the cross-instance socket relay when Addr is set
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"WESAL_REDIS_ADDR"`
	Password string `yaml:"password" env:"WESAL_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"WESAL_REDIS_DB"`
}

// AWSConfig holds the S3 settings of the session archive
type AWSConfig struct {
	Region    string `yaml:"region" env:"WESAL_AWS_REGION"`
	S3Bucket  string `yaml:"s3_bucket" env:"WESAL_AWS_S3_BUCKET"`
	AccessKey string `yaml:"access_key" env:"WESAL_AWS_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"WESAL_AWS_SECRET_KEY"`
	Endpoint  string `yaml:"endpoint" env:"WESAL_AWS_ENDPOINT"`
}

// APNsConfig holds partner push settings
type APNsConfig struct {
	Enabled         bool   `yaml:"enabled" env:"WESAL_APNS_ENABLED"`
	CertificatePath string `yaml:"certificate_path" env:"WESAL_APNS_CERTIFICATE_PATH"`
	CertificatePass string `yaml:"certificate_password" env:"WESAL_APNS_CERTIFICATE_PASSWORD"`
	Topic           string `yaml:"topic" env:"WESAL_APNS_TOPIC"`
	Production      bool   `yaml:"production" env:"WESAL_APNS_PRODUCTION"`
}

// SweeperConfig schedules idle session cleanup
type SweeperConfig struct {
	Schedule  string        `yaml:"schedule" env:"WESAL_SWEEPER_SCHEDULE"`
	MaxIdle   time.Duration `yaml:"max_idle" env:"WESAL_SWEEPER_MAX_IDLE"`
	BatchSize int           `yaml:"batch_size" env:"WESAL_SWEEPER_BATCH_SIZE"`
}

// PairingConfig holds pairing status cache settings
type PairingConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"WESAL_PAIRING_CACHE_TTL"`
}

// Load reads configuration from a YAML file, then applies WESAL_* environment
// overrides. A .env file next to the binary is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if cfg.JWT.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return cfg, nil
}

// Default returns the configuration used for keys missing from the file
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "disable", Migrate: true},
		Log:      LogConfig{Level: "info"},
		Sweeper:  SweeperConfig{Schedule: "@every 1h", MaxIdle: 168 * time.Hour, BatchSize: 100},
		Pairing:  PairingConfig{CacheTTL: 30 * time.Second},
	}
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL returns the migrate connection URL for the pgx/v5 driver
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
