// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, validation, and TOML profiles

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validConfig = `
server:
  api_addr: "127.0.0.1:9090"

listeners:
  - name: "primary"
    host: "0.0.0.0"
    port: 8080
  - name: "tls"
    host: "0.0.0.0"
    port: 8443
    cert_file: "/etc/ghostwire/tls.crt"
    key_file: "/etc/ghostwire/tls.key"

database:
  path: "./ghostwire.db"

auth:
  jwt_secret: "super-secret"
  operator: "operator"
  operator_hash: "$2a$10$abcdefghijklmnopqrstuv"

agents:
  checkin_timeout: "30s"
  sweep_schedule: "@every 2m"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.APIAddr != "127.0.0.1:9090" {
		t.Errorf("APIAddr = %q, want 127.0.0.1:9090", cfg.Server.APIAddr)
	}
	if len(cfg.Listeners) != 2 {
		t.Fatalf("len(Listeners) = %d, want 2", len(cfg.Listeners))
	}
	if cfg.Listeners[0].Name != "primary" || cfg.Listeners[0].Port != 8080 {
		t.Errorf("Listeners[0] = %+v, want primary:8080", cfg.Listeners[0])
	}
	if cfg.Listeners[1].CertFile == "" || cfg.Listeners[1].KeyFile == "" {
		t.Errorf("Listeners[1] TLS files not parsed: %+v", cfg.Listeners[1])
	}
	if cfg.Database.Path != "./ghostwire.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Agents.CheckinTimeout != 30*time.Second {
		t.Errorf("CheckinTimeout = %v, want 30s", cfg.Agents.CheckinTimeout)
	}
	if cfg.Agents.SweepSchedule != "@every 2m" {
		t.Errorf("SweepSchedule = %q", cfg.Agents.SweepSchedule)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("GHOSTWIRE_TEST_SECRET", "from-env")

	content := strings.Replace(validConfig, `jwt_secret: "super-secret"`,
		`jwt_secret: "${GHOSTWIRE_TEST_SECRET}"`, 1)
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q, want from-env", cfg.Auth.JWTSecret)
	}
}

func TestLoad_MissingEnvVarExpandsEmpty(t *testing.T) {
	content := strings.Replace(validConfig, `jwt_secret: "super-secret"`,
		`jwt_secret: "${GHOSTWIRE_DEFINITELY_UNSET}"`, 1)
	_, err := Load(writeConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("Load() error = %v, want jwt_secret validation failure", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	content := strings.Replace(validConfig, `checkin_timeout: "30s"`,
		`checkin_timeout: "soon"`, 1)
	_, err := Load(writeConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "checkin_timeout") {
		t.Errorf("Load() error = %v, want checkin_timeout parse failure", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() succeeded on a missing file")
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing api addr", func(c *Config) { c.Server.APIAddr = "" }, "api_addr"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"missing operator", func(c *Config) { c.Auth.Operator = "" }, "operator"},
		{"missing operator hash", func(c *Config) { c.Auth.OperatorHash = "" }, "operator_hash"},
		{"listener port out of range", func(c *Config) { c.Listeners[0].Port = 70000 }, "port"},
		{"cert without key", func(c *Config) { c.Listeners[0].CertFile = "/tmp/c.crt" }, "cert_file"},
		{"metrics without path", func(c *Config) { c.Metrics.Path = "" }, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadProfile_ValidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	content := `
server = "https://c2.example.net:8443"
agent_id = "fixed-id"
sleep_interval = 120
jitter_percent = 25
user_agent = "Mozilla/5.0"
insecure_tls = true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing profile: %v", err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile() failed: %v", err)
	}
	if p.Server != "https://c2.example.net:8443" {
		t.Errorf("Server = %q", p.Server)
	}
	if p.SleepInterval != 120 || p.JitterPercent != 25 {
		t.Errorf("timing = %d/%d, want 120/25", p.SleepInterval, p.JitterPercent)
	}
	if !p.InsecureTLS {
		t.Error("InsecureTLS = false, want true")
	}
}

func TestLoadProfile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing server", `sleep_interval = 60`, "server"},
		{"negative sleep", "server = \"http://x\"\nsleep_interval = -1", "sleep_interval"},
		{"jitter too large", "server = \"http://x\"\njitter_percent = 60", "jitter_percent"},
		{"bad toml", `server = `, "parsing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "profile.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("writing profile: %v", err)
			}
			_, err := LoadProfile(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadProfile() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}
