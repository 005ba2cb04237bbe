package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claviger.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	if config.Server.Port != 8085 {
		t.Errorf("expected default port 8085, got %d", config.Server.Port)
	}
	if config.Server.Host != "localhost" {
		t.Errorf("expected default host localhost, got %s", config.Server.Host)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", config.Logging.Level)
	}
	if !config.Browser.Headless {
		t.Error("expected headless browser by default")
	}
	if config.Otp.WaitTimeout.Std() != 5*time.Minute {
		t.Errorf("expected 5m OTP wait timeout, got %v", config.Otp.WaitTimeout.Std())
	}
	if config.Otp.Freshness.Std() != 5*time.Minute {
		t.Errorf("expected 5m OTP freshness, got %v", config.Otp.Freshness.Std())
	}
	if config.Backend.MaxAttempts != 3 {
		t.Errorf("expected 3 backend attempts, got %d", config.Backend.MaxAttempts)
	}
	if config.Login.Vendor != "fivepaisa" {
		t.Errorf("expected fivepaisa vendor default, got %s", config.Login.Vendor)
	}
	if config.Scheduler.Enabled {
		t.Error("scheduler should be disabled by default")
	}
	if config.Triage.Enabled {
		t.Error("triage should be disabled by default")
	}
}

func TestLoadFromFilesMerge(t *testing.T) {
	path := writeTempConfig(t, `
[server]
port = 9000

[login]
identifier = "9876543210"
pin = "123456"

[backend]
base_url = "https://backend.example.com"

[otp]
wait_timeout = "30s"
`)

	config, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	// Overridden values
	if config.Server.Port != 9000 {
		t.Errorf("expected port 9000 from file, got %d", config.Server.Port)
	}
	if config.Login.Identifier != "9876543210" {
		t.Errorf("expected identifier from file, got %q", config.Login.Identifier)
	}
	if config.Backend.BaseURL != "https://backend.example.com" {
		t.Errorf("expected backend base_url from file, got %q", config.Backend.BaseURL)
	}
	if config.Otp.WaitTimeout.Std() != 30*time.Second {
		t.Errorf("expected 30s wait timeout from file, got %v", config.Otp.WaitTimeout.Std())
	}

	// Defaults survive for untouched sections
	if config.Server.Host != "localhost" {
		t.Errorf("expected default host to survive merge, got %s", config.Server.Host)
	}
	if config.Login.Vendor != "fivepaisa" {
		t.Errorf("expected default vendor to survive merge, got %s", config.Login.Vendor)
	}
}

func TestLoadFromFilesLaterOverridesEarlier(t *testing.T) {
	base := writeTempConfig(t, "[server]\nport = 9000\n")
	override := writeTempConfig(t, "[server]\nport = 9100\n")

	config, err := LoadFromFiles(base, override)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}
	if config.Server.Port != 9100 {
		t.Errorf("expected later file to win, got port %d", config.Server.Port)
	}
}

func TestLoadFromFilesDurationStrings(t *testing.T) {
	path := writeTempConfig(t, `
[browser]
page_timeout = "45s"

[login]
prompt_timeout = "25s"
success_timeout = "35s"
run_timeout = "8m"

[otp]
wait_timeout = "3m"
freshness = "2m"

[backend]
request_timeout = "20s"
initial_backoff = "2s"
max_backoff = "40s"
`)

	config, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	durations := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"browser.page_timeout", config.Browser.PageTimeout.Std(), 45 * time.Second},
		{"login.prompt_timeout", config.Login.PromptTimeout.Std(), 25 * time.Second},
		{"login.success_timeout", config.Login.SuccessTimeout.Std(), 35 * time.Second},
		{"login.run_timeout", config.Login.RunTimeout.Std(), 8 * time.Minute},
		{"otp.wait_timeout", config.Otp.WaitTimeout.Std(), 3 * time.Minute},
		{"otp.freshness", config.Otp.Freshness.Std(), 2 * time.Minute},
		{"backend.request_timeout", config.Backend.RequestTimeout.Std(), 20 * time.Second},
		{"backend.initial_backoff", config.Backend.InitialBackoff.Std(), 2 * time.Second},
		{"backend.max_backoff", config.Backend.MaxBackoff.Std(), 40 * time.Second},
	}
	for _, d := range durations {
		if d.got != d.want {
			t.Errorf("%s: got %v, want %v", d.name, d.got, d.want)
		}
	}
}

func TestLoadFromFilesBadDurationString(t *testing.T) {
	path := writeTempConfig(t, "[browser]\npage_timeout = \"soon\"\n")

	if _, err := LoadFromFiles(path); err == nil {
		t.Fatal("expected error for malformed duration string")
	}
}

func TestLoadFromFilesShippedConfig(t *testing.T) {
	// The config shipped in deployments/local must parse as written
	config, err := LoadFromFiles("../../deployments/local/claviger.toml")
	if err != nil {
		t.Fatalf("shipped config failed to load: %v", err)
	}

	if config.Server.Port != 8085 {
		t.Errorf("expected port 8085, got %d", config.Server.Port)
	}
	if config.Browser.PageTimeout.Std() != 30*time.Second {
		t.Errorf("expected 30s page timeout, got %v", config.Browser.PageTimeout.Std())
	}
	if config.Login.RunTimeout.Std() != 10*time.Minute {
		t.Errorf("expected 10m run timeout, got %v", config.Login.RunTimeout.Std())
	}
	if config.Backend.MaxBackoff.Std() != 30*time.Second {
		t.Errorf("expected 30s backoff ceiling, got %v", config.Backend.MaxBackoff.Std())
	}
}

func TestLoadFromFilesMissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLAVIGER_SERVER_PORT", "9200")
	t.Setenv("CLAVIGER_LOGIN_IDENTIFIER", "5551234567")
	t.Setenv("CLAVIGER_BROWSER_HEADLESS", "false")
	t.Setenv("CLAVIGER_OTP_WAIT_TIMEOUT", "45s")
	t.Setenv("CLAVIGER_BACKEND_BASE_URL", "https://env.example.com")

	config, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if config.Server.Port != 9200 {
		t.Errorf("expected env port 9200, got %d", config.Server.Port)
	}
	if config.Login.Identifier != "5551234567" {
		t.Errorf("expected env identifier, got %q", config.Login.Identifier)
	}
	if config.Browser.Headless {
		t.Error("expected headless disabled via env")
	}
	if config.Otp.WaitTimeout.Std() != 45*time.Second {
		t.Errorf("expected env wait timeout 45s, got %v", config.Otp.WaitTimeout.Std())
	}
	if config.Backend.BaseURL != "https://env.example.com" {
		t.Errorf("expected env backend base_url, got %q", config.Backend.BaseURL)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeTempConfig(t, "[server]\nport = 9000\n")
	t.Setenv("CLAVIGER_SERVER_PORT", "9300")

	config, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}
	if config.Server.Port != 9300 {
		t.Errorf("expected env to beat file, got port %d", config.Server.Port)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 9400, "0.0.0.0")
	if config.Server.Port != 9400 {
		t.Errorf("expected flag port 9400, got %d", config.Server.Port)
	}
	if config.Server.Host != "0.0.0.0" {
		t.Errorf("expected flag host, got %s", config.Server.Host)
	}

	// Zero/empty flags leave config untouched
	ApplyFlagOverrides(config, 0, "")
	if config.Server.Port != 9400 || config.Server.Host != "0.0.0.0" {
		t.Error("zero-value flags should not override config")
	}
}

func validTestConfig() *Config {
	config := NewDefaultConfig()
	config.Login.Identifier = "9876543210"
	config.Backend.BaseURL = "https://backend.example.com"
	return config
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing identifier",
			mutate:  func(c *Config) { c.Login.Identifier = "" },
			wantErr: true,
		},
		{
			name:    "missing backend url",
			mutate:  func(c *Config) { c.Backend.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "malformed backend url",
			mutate:  func(c *Config) { c.Backend.BaseURL = "not-a-url" },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "zero login attempts",
			mutate:  func(c *Config) { c.Login.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "scheduler enabled with bad schedule",
			mutate:  func(c *Config) { c.Scheduler.Enabled = true; c.Scheduler.Schedule = "bogus" },
			wantErr: true,
		},
		{
			name:    "scheduler enabled with valid schedule",
			mutate:  func(c *Config) { c.Scheduler.Enabled = true; c.Scheduler.Schedule = "30 8 * * 1-5" },
			wantErr: false,
		},
		{
			name:    "imap enabled without host",
			mutate:  func(c *Config) { c.Imap.Enabled = true },
			wantErr: true,
		},
		{
			name: "imap enabled fully configured",
			mutate: func(c *Config) {
				c.Imap.Enabled = true
				c.Imap.Host = "imap.example.com"
				c.Imap.Username = "otp@example.com"
				c.Imap.Password = "app-password"
			},
			wantErr: false,
		},
		{
			name: "imap enabled without password",
			mutate: func(c *Config) {
				c.Imap.Enabled = true
				c.Imap.Host = "imap.example.com"
				c.Imap.Username = "otp@example.com"
			},
			wantErr: true,
		},
		{
			name:    "triage enabled without model",
			mutate:  func(c *Config) { c.Triage.Enabled = true; c.Triage.Model = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validTestConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestValidateRefreshSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"weekday morning", "30 8 * * 1-5", false},
		{"every 30 minutes", "*/30 * * * *", false},
		{"every minute rejected", "* * * * *", true},
		{"every 2 minutes rejected", "*/2 * * * *", true},
		{"too few fields", "30 8", true},
		{"garbage", "not a schedule", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRefreshSchedule(tt.schedule)
			if tt.wantErr && err == nil {
				t.Errorf("expected error for schedule %q", tt.schedule)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for schedule %q: %v", tt.schedule, err)
			}
		})
	}
}
