// Package config loads the raffle daemon configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML strings like "30s" or "10m" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Raffle   RaffleConfig   `yaml:"raffle"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Upkeep   UpkeepConfig   `yaml:"upkeep"`
	API      APIConfig      `yaml:"api"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig mirrors the logger package configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// DatabaseConfig holds the optional Postgres audit store settings. An empty
// DSN keeps persistence in memory.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RaffleConfig holds the immutable raffle parameters.
type RaffleConfig struct {
	EntranceFee int64    `yaml:"entrance_fee"`
	Interval    Duration `yaml:"interval"`
}

// OracleConfig selects and parameterises the randomness coordinator. With
// Simulate set (or no endpoint configured) the local simulator is used.
type OracleConfig struct {
	Endpoint         string   `yaml:"endpoint"`
	APIKey           string   `yaml:"api_key"`
	KeyID            string   `yaml:"key_id"`
	SubscriptionID   string   `yaml:"subscription_id"`
	CallbackGasLimit uint32   `yaml:"callback_gas_limit"`
	Confirmations    uint16   `yaml:"confirmations"`
	Simulate         bool     `yaml:"simulate"`
	SimulatorDelay   Duration `yaml:"simulator_delay"`
}

// UpkeepConfig holds the scheduler cadence.
type UpkeepConfig struct {
	Schedule string `yaml:"schedule"`
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	EntryRatePerSecond float64 `yaml:"entry_rate_per_second"`
	EntryBurst         int     `yaml:"entry_burst"`
}

// DefaultPath is where Load looks when RAFFLE_CONFIG is unset.
var DefaultPath = filepath.Join("config", "raffle.yaml")

// Load reads the configuration file, applies environment overrides, and
// validates the result. A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	path := os.Getenv("RAFFLE_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from an explicit file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Raffle: RaffleConfig{
			EntranceFee: 10,
			Interval:    Duration(10 * time.Minute),
		},
		Oracle: OracleConfig{
			Simulate:       true,
			SimulatorDelay: Duration(2 * time.Second),
		},
		Upkeep: UpkeepConfig{Schedule: "@every 15s"},
		API:    APIConfig{EntryRatePerSecond: 10, EntryBurst: 20},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("RAFFLE_ENTRANCE_FEE"); v != "" {
		if fee, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Raffle.EntranceFee = fee
		}
	}
	if v := os.Getenv("RAFFLE_INTERVAL"); v != "" {
		if interval, err := time.ParseDuration(v); err == nil {
			cfg.Raffle.Interval = Duration(interval)
		}
	}
	if v := os.Getenv("ORACLE_ENDPOINT"); v != "" {
		cfg.Oracle.Endpoint = v
		cfg.Oracle.Simulate = false
	}
	if v := os.Getenv("ORACLE_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv("ORACLE_KEY_ID"); v != "" {
		cfg.Oracle.KeyID = v
	}
	if v := os.Getenv("ORACLE_SUBSCRIPTION_ID"); v != "" {
		cfg.Oracle.SubscriptionID = v
	}
	if v := os.Getenv("ORACLE_SIMULATE"); v != "" {
		cfg.Oracle.Simulate = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("UPKEEP_SCHEDULE"); v != "" {
		cfg.Upkeep.Schedule = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Raffle.EntranceFee <= 0 {
		return fmt.Errorf("raffle entrance_fee must be positive, got %d", c.Raffle.EntranceFee)
	}
	if c.Raffle.Interval <= 0 {
		return fmt.Errorf("raffle interval must be positive, got %s", c.Raffle.Interval.Std())
	}
	if !c.Oracle.Simulate && strings.TrimSpace(c.Oracle.Endpoint) == "" {
		return fmt.Errorf("oracle endpoint required when simulation is disabled")
	}
	return nil
}
