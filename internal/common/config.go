package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Duration lets TOML carry durations as strings ("30s", "5m"). go-toml
// only decodes into types implementing encoding.TextUnmarshaler, so a
// bare time.Duration field rejects the string form.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped value as a plain time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Browser     BrowserConfig   `toml:"browser"`
	Login       LoginConfig     `toml:"login"`
	Otp         OtpConfig       `toml:"otp"`
	Backend     BackendConfig   `toml:"backend"`
	Imap        ImapConfig      `toml:"imap"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Triage      TriageConfig    `toml:"triage"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" validate:"required"`
	// Token-bucket limit applied to POST /api/otp so a misbehaving notifier
	// cannot flood the pending slot. Zero disables limiting.
	WebhookRateLimit float64 `toml:"webhook_rate_limit"`
	WebhookRateBurst int     `toml:"webhook_rate_burst"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"` // "debug", "info", "warn", "error"
	Format string   `toml:"format"`                                       // "json" or "text"
	Output []string `toml:"output"`                                       // "stdout", "file"
}

type StorageConfig struct {
	Badger     BadgerConfig `toml:"badger"`
	Snapshots  string       `toml:"snapshots"`   // Directory for diagnostic snapshot bundles
	RunHistory int          `toml:"run_history"` // Number of run records to retain (0 = unlimited)
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// BrowserConfig controls the chromedp session used to drive the vendor login
type BrowserConfig struct {
	Headless    bool     `toml:"headless"`     // Run Chrome without a visible window
	UserAgent   string   `toml:"user_agent"`   // User agent presented to the vendor site
	PageTimeout Duration `toml:"page_timeout"` // Per page-operation timeout (navigate, click, fill)
}

// LoginConfig carries the credentials and bounded waits for the vendor login flow
type LoginConfig struct {
	Vendor         string   `toml:"vendor" validate:"required"`     // Vendor profile name (e.g. "fivepaisa")
	Identifier     string   `toml:"identifier" validate:"required"` // Login identifier (mobile number / client code)
	Secret         string   `toml:"secret"`                         // Password, when the vendor flow uses one
	Pin            string   `toml:"pin"`                            // Static PIN, when the flow requires it
	ProfilesDir    string   `toml:"profiles_dir"`                   // Directory of vendor profile YAML files
	PromptTimeout  Duration `toml:"prompt_timeout"`                 // Bounded wait for the OTP prompt to appear
	SuccessTimeout Duration `toml:"success_timeout"`                // Bounded wait for the post-OTP success indicator
	RunTimeout     Duration `toml:"run_timeout"`                    // Overall deadline for one end-to-end run
	MaxAttempts    int      `toml:"max_attempts" validate:"min=1"`  // Login attempts per run (transport/timeout retries)
}

// OtpConfig controls the OTP mailbox and its inbound sources
type OtpConfig struct {
	WaitTimeout Duration `toml:"wait_timeout"` // How long the login flow blocks waiting for an OTP
	Freshness   Duration `toml:"freshness"`    // Deposits older than this are purged, not delivered (0 = never expire)
}

// BackendConfig describes the token-ingestion endpoint and its retry policy
type BackendConfig struct {
	BaseURL        string   `toml:"base_url" validate:"required,url"` // e.g. "https://api.example.com"
	RequestTimeout Duration `toml:"request_timeout"`                  // Per-attempt HTTP timeout
	MaxAttempts    int      `toml:"max_attempts" validate:"min=1"`    // Dispatch attempts (transient retries)
	InitialBackoff Duration `toml:"initial_backoff"`                  // First retry delay
	MaxBackoff     Duration `toml:"max_backoff"`                      // Backoff ceiling
}

// ImapConfig enables the optional email OTP source
type ImapConfig struct {
	Enabled       bool   `toml:"enabled"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Username      string `toml:"username"`
	Password      string `toml:"password"`
	Folder        string `toml:"folder"`         // Mailbox folder to watch (default "INBOX")
	SubjectFilter string `toml:"subject_filter"` // Only messages whose subject contains this are scanned
	PollInterval  string `toml:"poll_interval"`  // e.g. "15s"
}

// SchedulerConfig enables unattended token refresh runs
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format (5 fields)
}

// WebSocketConfig contains configuration for WebSocket event/log streaming
type WebSocketConfig struct {
	MinLevel        string   `toml:"min_level"`        // Minimum log level to broadcast ("debug", "info", "warn", "error")
	ExcludePatterns []string `toml:"exclude_patterns"` // Log message patterns to exclude from broadcasting
	// Whitelist of event types to broadcast via WebSocket. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events. Map of event type to duration string.
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// TriageConfig enables the optional LLM analysis of failure snapshots
type TriageConfig struct {
	Enabled     bool    `toml:"enabled"`
	Model       string  `toml:"model"`       // Provider inferred from name: "claude-*" or "gemini-*"
	APIKey      string  `toml:"api_key"`     // Resolved from env when empty (ANTHROPIC_API_KEY / GEMINI_API_KEY)
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in the triage response
	Temperature float32 `toml:"temperature"` // Completion temperature
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "2m")
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in claviger.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode
		Server: ServerConfig{
			Port:             8085,
			Host:             "localhost",
			WebhookRateLimit: 5, // 5 deposits/second is far above any real notifier
			WebhookRateBurst: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Format: "text",                     // Human-readable text format (text|json)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Snapshots:  "./data/snapshots",
			RunHistory: 200, // Keep the last 200 run records
		},
		Browser: BrowserConfig{
			Headless:    true,
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			PageTimeout: Duration(30 * time.Second),
		},
		Login: LoginConfig{
			Vendor:         "fivepaisa", // Only built-in profile; others load from profiles_dir
			ProfilesDir:    "./profiles",
			PromptTimeout:  Duration(20 * time.Second),
			SuccessTimeout: Duration(30 * time.Second),
			RunTimeout:     Duration(10 * time.Minute),
			MaxAttempts:    2, // One retry on transport/timeout failures
		},
		Otp: OtpConfig{
			WaitTimeout: Duration(5 * time.Minute), // Notifier latency is human-scale (SMS relay)
			Freshness:   Duration(5 * time.Minute), // Vendor OTPs expire server-side around this mark
		},
		Backend: BackendConfig{
			RequestTimeout: Duration(15 * time.Second),
			MaxAttempts:    3,
			InitialBackoff: Duration(1 * time.Second),
			MaxBackoff:     Duration(30 * time.Second),
		},
		Imap: ImapConfig{
			Enabled:      false, // Webhook is the primary OTP source
			Port:         993,
			Folder:       "INBOX",
			PollInterval: "15s",
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,          // Manual runs by default
			Schedule: "30 8 * * 1-5", // Weekday pre-market refresh when enabled
		},
		WebSocket: WebSocketConfig{
			MinLevel: "info", // Default: info level and above
			ExcludePatterns: []string{
				"WebSocket client connected",
				"WebSocket client disconnected",
				"HTTP request",
				"HTTP response",
			},
			// Empty AllowedEvents allows all events
			AllowedEvents: []string{},
			// Throttle high-frequency events to prevent WebSocket flooding
			ThrottleIntervals: map[string]string{
				"run_state": "250ms",
			},
		},
		Triage: TriageConfig{
			Enabled:     false, // Opt-in; requires an API key
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   1024,
			Temperature: 0.2, // Diagnosis, not prose
			Timeout:     "2m",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
// Priority system: CLI flags > Environment variables > Config file > Defaults
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
// Example: LoadFromFiles("base.toml", "override.toml") - override.toml settings take precedence over base.toml
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: CLAVIGER_ENV, fallback: GO_ENV)
	if env := os.Getenv("CLAVIGER_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CLAVIGER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CLAVIGER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("CLAVIGER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CLAVIGER_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("CLAVIGER_LOG_OUTPUT"); output != "" {
		// Split comma-separated output types
		outputs := []string{}
		for _, o := range splitString(output, ",") {
			trimmed := trimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("CLAVIGER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if snapshots := os.Getenv("CLAVIGER_SNAPSHOTS_DIR"); snapshots != "" {
		config.Storage.Snapshots = snapshots
	}

	// Browser configuration
	if headless := os.Getenv("CLAVIGER_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if userAgent := os.Getenv("CLAVIGER_BROWSER_USER_AGENT"); userAgent != "" {
		config.Browser.UserAgent = userAgent
	}
	if pageTimeout := os.Getenv("CLAVIGER_BROWSER_PAGE_TIMEOUT"); pageTimeout != "" {
		if pt, err := time.ParseDuration(pageTimeout); err == nil {
			config.Browser.PageTimeout = Duration(pt)
		}
	}

	// Login configuration (credentials normally arrive via environment)
	if vendor := os.Getenv("CLAVIGER_LOGIN_VENDOR"); vendor != "" {
		config.Login.Vendor = vendor
	}
	if identifier := os.Getenv("CLAVIGER_LOGIN_IDENTIFIER"); identifier != "" {
		config.Login.Identifier = identifier
	}
	if secret := os.Getenv("CLAVIGER_LOGIN_SECRET"); secret != "" {
		config.Login.Secret = secret
	}
	if pin := os.Getenv("CLAVIGER_LOGIN_PIN"); pin != "" {
		config.Login.Pin = pin
	}
	if profilesDir := os.Getenv("CLAVIGER_LOGIN_PROFILES_DIR"); profilesDir != "" {
		config.Login.ProfilesDir = profilesDir
	}
	if promptTimeout := os.Getenv("CLAVIGER_LOGIN_PROMPT_TIMEOUT"); promptTimeout != "" {
		if pt, err := time.ParseDuration(promptTimeout); err == nil {
			config.Login.PromptTimeout = Duration(pt)
		}
	}
	if successTimeout := os.Getenv("CLAVIGER_LOGIN_SUCCESS_TIMEOUT"); successTimeout != "" {
		if st, err := time.ParseDuration(successTimeout); err == nil {
			config.Login.SuccessTimeout = Duration(st)
		}
	}
	if runTimeout := os.Getenv("CLAVIGER_LOGIN_RUN_TIMEOUT"); runTimeout != "" {
		if rt, err := time.ParseDuration(runTimeout); err == nil {
			config.Login.RunTimeout = Duration(rt)
		}
	}
	if maxAttempts := os.Getenv("CLAVIGER_LOGIN_MAX_ATTEMPTS"); maxAttempts != "" {
		if ma, err := strconv.Atoi(maxAttempts); err == nil {
			config.Login.MaxAttempts = ma
		}
	}

	// OTP configuration
	if waitTimeout := os.Getenv("CLAVIGER_OTP_WAIT_TIMEOUT"); waitTimeout != "" {
		if wt, err := time.ParseDuration(waitTimeout); err == nil {
			config.Otp.WaitTimeout = Duration(wt)
		}
	}
	if freshness := os.Getenv("CLAVIGER_OTP_FRESHNESS"); freshness != "" {
		if f, err := time.ParseDuration(freshness); err == nil {
			config.Otp.Freshness = Duration(f)
		}
	}

	// Backend configuration
	if baseURL := os.Getenv("CLAVIGER_BACKEND_BASE_URL"); baseURL != "" {
		config.Backend.BaseURL = baseURL
	}
	if requestTimeout := os.Getenv("CLAVIGER_BACKEND_REQUEST_TIMEOUT"); requestTimeout != "" {
		if rt, err := time.ParseDuration(requestTimeout); err == nil {
			config.Backend.RequestTimeout = Duration(rt)
		}
	}
	if maxAttempts := os.Getenv("CLAVIGER_BACKEND_MAX_ATTEMPTS"); maxAttempts != "" {
		if ma, err := strconv.Atoi(maxAttempts); err == nil {
			config.Backend.MaxAttempts = ma
		}
	}

	// IMAP configuration
	if enabled := os.Getenv("CLAVIGER_IMAP_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Imap.Enabled = e
		}
	}
	if host := os.Getenv("CLAVIGER_IMAP_HOST"); host != "" {
		config.Imap.Host = host
	}
	if username := os.Getenv("CLAVIGER_IMAP_USERNAME"); username != "" {
		config.Imap.Username = username
	}
	if password := os.Getenv("CLAVIGER_IMAP_PASSWORD"); password != "" {
		config.Imap.Password = password
	}

	// Scheduler configuration
	if enabled := os.Getenv("CLAVIGER_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if schedule := os.Getenv("CLAVIGER_SCHEDULER_SCHEDULE"); schedule != "" {
		config.Scheduler.Schedule = schedule
	}

	// Triage configuration
	if enabled := os.Getenv("CLAVIGER_TRIAGE_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Triage.Enabled = e
		}
	}
	if model := os.Getenv("CLAVIGER_TRIAGE_MODEL"); model != "" {
		config.Triage.Model = model
	}
	if apiKey := os.Getenv("CLAVIGER_TRIAGE_API_KEY"); apiKey != "" {
		config.Triage.APIKey = apiKey
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration for values the service cannot start without.
// Field-level rules live in validate tags; cross-field rules are checked here.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.Scheduler.Enabled {
		if err := ValidateRefreshSchedule(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("scheduler.schedule: %w", err)
		}
	}
	if c.Imap.Enabled {
		if c.Imap.Host == "" || c.Imap.Username == "" || c.Imap.Password == "" {
			return fmt.Errorf("imap enabled but host/username/password not set")
		}
		if _, err := time.ParseDuration(c.Imap.PollInterval); err != nil {
			return fmt.Errorf("imap.poll_interval: %w", err)
		}
	}
	if c.Triage.Enabled && c.Triage.Model == "" {
		return fmt.Errorf("triage enabled but model not set")
	}

	return nil
}

// ValidateRefreshSchedule validates a cron schedule expression and ensures minimum 5-minute interval
func ValidateRefreshSchedule(schedule string) error {
	// Parse the cron expression
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	// Check for minimum 5-minute interval
	// Validate minute field (first field in standard cron)
	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	// Vendor OTP flows are human-paced; sub-5-minute refresh is always a misconfiguration
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	if strings.HasPrefix(minuteField, "*/") {
		intervalStr := strings.TrimPrefix(minuteField, "*/")
		interval, err := strconv.Atoi(intervalStr)
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Helper functions for string manipulation
func splitString(s, sep string) []string {
	result := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	result = append(result, s[start:])
	return result
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
