// Package config loads the portal configuration from YAML, then applies
// an optional .env file and PORTAL_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/school-parliament/portal/internal/progression"
)

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server        ServerConfig              `yaml:"server"`
	Database      DatabaseConfig            `yaml:"database"`
	Awards        AwardsConfig              `yaml:"awards"`
	Leagues       progression.LeagueCutoffs `yaml:"leagues"`
	Notifications NotificationsConfig       `yaml:"notifications"`
	Log           LogConfig                 `yaml:"log"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// AuthToken gates every route behind a bearer token when set.
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	// DSN is the connection string. For the memory driver it is an optional
	// snapshot file loaded at start and written on shutdown.
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type AwardsConfig struct {
	// SweepInterval runs the due-award sweep in-process; 0 disables it.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// LazyTrigger awards a due task when it is read.
	LazyTrigger bool `yaml:"lazy_trigger"`
}

type NotificationsConfig struct {
	// Buffer is the per-client send queue; clients that fill it are dropped.
	Buffer int `yaml:"buffer"`
}

type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Database: DatabaseConfig{
			Driver:       DriverSQLite,
			DSN:          "portal.db",
			MaxOpenConns: 10,
		},
		Awards: AwardsConfig{
			SweepInterval: time.Minute,
			LazyTrigger:   true,
		},
		Leagues:       progression.DefaultLeagueCutoffs,
		Notifications: NotificationsConfig{Buffer: 64},
		Log:           LogConfig{Mode: "prod"},
	}
}

// Default returns the built-in configuration.
func Default() *Config { return defaultConfig() }

// Load reads path over the defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadOrDefault is Load, falling back to the defaults (plus environment
// overrides) when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	cfg = defaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadDotEnv loads path into the process environment if it exists.
// Variables already set win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORTAL_DB_DRIVER"); v != "" {
		c.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("PORTAL_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("PORTAL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORTAL_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("PORTAL_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("PORTAL_LOG_MODE"); v != "" {
		c.Log.Mode = v
	}
	if v := os.Getenv("PORTAL_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver %q: want memory, sqlite or postgres", c.Database.Driver)
	}
	if c.Database.Driver != DriverMemory && c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !c.Leagues.Valid() {
		return fmt.Errorf("leagues: silver_from %d and gold_from %d must be positive and ascending",
			c.Leagues.SilverFrom, c.Leagues.GoldFrom)
	}
	if c.Awards.SweepInterval < 0 {
		return errors.New("awards.sweep_interval must not be negative")
	}
	if c.Notifications.Buffer <= 0 {
		c.Notifications.Buffer = defaultConfig().Notifications.Buffer
	}
	return nil
}
