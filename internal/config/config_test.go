package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins:
    - "https://portal.school.example"
database:
  driver: postgres
  dsn: "host=db user=portal dbname=portal"
awards:
  sweep_interval: 30s
  lazy_trigger: false
leagues:
  silver_from: 300
  gold_from: 900
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Addr() != "0.0.0.0:9090" {
		t.Errorf("Server.Addr() = %q", cfg.Server.Addr())
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Awards.SweepInterval != 30*time.Second {
		t.Errorf("Awards.SweepInterval = %v, want 30s", cfg.Awards.SweepInterval)
	}
	if cfg.Awards.LazyTrigger {
		t.Error("Awards.LazyTrigger = true, want false")
	}
	if cfg.Leagues.SilverFrom != 300 || cfg.Leagues.GoldFrom != 900 {
		t.Errorf("Leagues = %+v", cfg.Leagues)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Database.MaxOpenConns != 10 {
		t.Errorf("Database.MaxOpenConns = %d, want default 10", cfg.Database.MaxOpenConns)
	}
	if cfg.Notifications.Buffer != 64 {
		t.Errorf("Notifications.Buffer = %d, want default 64", cfg.Notifications.Buffer)
	}
	if cfg.Log.Mode != "prod" {
		t.Errorf("Log.Mode = %q, want default prod", cfg.Log.Mode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %q, want default sqlite", cfg.Database.Driver)
	}
	if !cfg.Awards.LazyTrigger {
		t.Error("Awards.LazyTrigger = false, want default true")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, ":::not valid yaml")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORTAL_DB_DRIVER", "MEMORY")
	t.Setenv("PORTAL_PORT", "7070")
	t.Setenv("PORTAL_AUTH_TOKEN", "s3cret")
	t.Setenv("PORTAL_LOG_MODE", "dev")
	t.Setenv("PORTAL_LOG_LEVEL", "WARN")

	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Driver != DriverMemory {
		t.Errorf("Database.Driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "s3cret" {
		t.Errorf("Server.AuthToken = %q", cfg.Server.AuthToken)
	}
	if cfg.Log.Mode != "dev" {
		t.Errorf("Log.Mode = %q, want dev", cfg.Log.Mode)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestEnvBadPort(t *testing.T) {
	t.Setenv("PORTAL_PORT", "eighty")
	if _, err := LoadOrDefault("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("non-numeric PORTAL_PORT accepted")
	}
}

func TestDotEnv(t *testing.T) {
	if err := LoadDotEnv("/nonexistent/.env"); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PORTAL_DB_DSN=/tmp/from-dotenv.db\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORTAL_DB_DSN", "")
	os.Unsetenv("PORTAL_DB_DSN")
	if err := LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.DSN != "/tmp/from-dotenv.db" {
		t.Errorf("Database.DSN = %q, want value from .env", cfg.Database.DSN)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"memory needs no dsn", func(c *Config) { c.Database.Driver = DriverMemory; c.Database.DSN = "" }, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"leagues out of order", func(c *Config) { c.Leagues.GoldFrom = c.Leagues.SilverFrom }, "leagues"},
		{"negative sweep", func(c *Config) { c.Awards.SweepInterval = -time.Second }, "sweep_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
