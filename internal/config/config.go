package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr     string // API bind address, e.g., "127.0.0.1:8080" (Windows) or ":8080" (Docker)
	LogDir   string // logs directory
	LogLevel string

	// Postgres when it starts with postgres:// or postgresql://, otherwise
	// the path of an SQLite file.
	DatabaseURL string

	CheckInterval       time.Duration // 0 disables the background sweep
	HTTPTimeout         time.Duration
	RetryAttempts       int // probe attempts per check; 1 means no retry
	RetryBackoff        time.Duration
	MaxConcurrentChecks int
	MaxEndpointsPerAcct int
	TrialPeriod         time.Duration
	JWTSecret           string
	TokenTTL            time.Duration
	AdminAPIKeys        []string
	AllowedOrigins      []string
	AuthRPM             int // per-IP limit on register/login; 0 disables
	AuthBurst           int
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string
	MailFrom            string
	SlackWebhookURL     string
	DiscordWebhookURL   string
	StripeWebhookSecret string
	ShutdownGrace       time.Duration
	WSPushInterval      time.Duration
}

func Defaults() Config {
	return Config{
		Addr:                "127.0.0.1:8080",
		LogDir:              "logs",
		LogLevel:            "info",
		DatabaseURL:         "data/uptime.db",
		CheckInterval:       5 * time.Minute,
		HTTPTimeout:         10 * time.Second,
		RetryAttempts:       1,
		RetryBackoff:        300 * time.Millisecond,
		MaxConcurrentChecks: 8,
		MaxEndpointsPerAcct: 3,
		TrialPeriod:         7 * 24 * time.Hour,
		TokenTTL:            24 * time.Hour,
		AllowedOrigins:      []string{"*"},
		AuthRPM:             30,
		AuthBurst:           10,
		SMTPPort:            587,
		ShutdownGrace:       10 * time.Second,
		WSPushInterval:      5 * time.Second,
	}
}

// Load applies defaults, then the file named by CONFIG_FILE (if any), then
// environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// FromEnv is Load without a config file.
func FromEnv() Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// fileConfig is the on-disk shape; durations are Go duration strings.
type fileConfig struct {
	Addr                string   `yaml:"api_addr" toml:"api_addr"`
	LogDir              string   `yaml:"log_dir" toml:"log_dir"`
	LogLevel            string   `yaml:"log_level" toml:"log_level"`
	DatabaseURL         string   `yaml:"database_url" toml:"database_url"`
	CheckInterval       string   `yaml:"check_interval" toml:"check_interval"`
	HTTPTimeout         string   `yaml:"http_timeout" toml:"http_timeout"`
	RetryAttempts       int      `yaml:"retry_attempts" toml:"retry_attempts"`
	RetryBackoff        string   `yaml:"retry_backoff" toml:"retry_backoff"`
	MaxConcurrentChecks int      `yaml:"max_concurrent_checks" toml:"max_concurrent_checks"`
	MaxEndpointsPerAcct int      `yaml:"max_endpoints_per_account" toml:"max_endpoints_per_account"`
	TrialDays           int      `yaml:"trial_days" toml:"trial_days"`
	TokenTTL            string   `yaml:"token_ttl" toml:"token_ttl"`
	AdminAPIKeys        []string `yaml:"admin_api_keys" toml:"admin_api_keys"`
	AllowedOrigins      []string `yaml:"allowed_origins" toml:"allowed_origins"`
	AuthRPM             int      `yaml:"auth_rpm" toml:"auth_rpm"`
	AuthBurst           int      `yaml:"auth_burst" toml:"auth_burst"`
	SMTPHost            string   `yaml:"smtp_host" toml:"smtp_host"`
	SMTPPort            int      `yaml:"smtp_port" toml:"smtp_port"`
	SMTPUsername        string   `yaml:"smtp_username" toml:"smtp_username"`
	MailFrom            string   `yaml:"mail_from" toml:"mail_from"`
	SlackWebhookURL     string   `yaml:"slack_webhook_url" toml:"slack_webhook_url"`
	DiscordWebhookURL   string   `yaml:"discord_webhook_url" toml:"discord_webhook_url"`
	ShutdownGrace       string   `yaml:"shutdown_grace" toml:"shutdown_grace"`
	WSPushInterval      string   `yaml:"ws_push_interval" toml:"ws_push_interval"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		return fmt.Errorf("config file %s: unsupported extension", path)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setStr(&c.Addr, fc.Addr)
	setStr(&c.LogDir, fc.LogDir)
	setStr(&c.LogLevel, fc.LogLevel)
	setStr(&c.DatabaseURL, fc.DatabaseURL)
	setStr(&c.SMTPHost, fc.SMTPHost)
	setStr(&c.SMTPUsername, fc.SMTPUsername)
	setStr(&c.MailFrom, fc.MailFrom)
	setStr(&c.SlackWebhookURL, fc.SlackWebhookURL)
	setStr(&c.DiscordWebhookURL, fc.DiscordWebhookURL)
	setPositive(&c.RetryAttempts, fc.RetryAttempts)
	setPositive(&c.MaxConcurrentChecks, fc.MaxConcurrentChecks)
	setPositive(&c.MaxEndpointsPerAcct, fc.MaxEndpointsPerAcct)
	setPositive(&c.AuthRPM, fc.AuthRPM)
	setPositive(&c.AuthBurst, fc.AuthBurst)
	setPositive(&c.SMTPPort, fc.SMTPPort)
	if fc.TrialDays > 0 {
		c.TrialPeriod = time.Duration(fc.TrialDays) * 24 * time.Hour
	}
	if len(fc.AdminAPIKeys) > 0 {
		c.AdminAPIKeys = fc.AdminAPIKeys
	}
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"check_interval", fc.CheckInterval, &c.CheckInterval},
		{"http_timeout", fc.HTTPTimeout, &c.HTTPTimeout},
		{"retry_backoff", fc.RetryBackoff, &c.RetryBackoff},
		{"token_ttl", fc.TokenTTL, &c.TokenTTL},
		{"shutdown_grace", fc.ShutdownGrace, &c.ShutdownGrace},
		{"ws_push_interval", fc.WSPushInterval, &c.WSPushInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil || v < 0 {
			return fmt.Errorf("config file %s: bad %s %q", path, d.key, d.raw)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() {
	envStr(&c.Addr, "API_ADDR")
	envStr(&c.LogDir, "LOG_DIR")
	envStr(&c.LogLevel, "LOG_LEVEL")
	envStr(&c.DatabaseURL, "DATABASE_URL")
	envStr(&c.JWTSecret, "JWT_SECRET")
	envStr(&c.SMTPHost, "SMTP_HOST")
	envStr(&c.SMTPUsername, "SMTP_USERNAME")
	envStr(&c.SMTPPassword, "SMTP_PASSWORD")
	envStr(&c.MailFrom, "MAIL_FROM")
	envStr(&c.SlackWebhookURL, "SLACK_WEBHOOK_URL")
	envStr(&c.DiscordWebhookURL, "DISCORD_WEBHOOK_URL")
	envStr(&c.StripeWebhookSecret, "STRIPE_WEBHOOK_SECRET")

	envDuration(&c.CheckInterval, "CHECK_INTERVAL")
	envDuration(&c.TokenTTL, "TOKEN_TTL")
	envDuration(&c.ShutdownGrace, "SHUTDOWN_GRACE")
	envDuration(&c.WSPushInterval, "WS_PUSH_INTERVAL")

	if v := os.Getenv("HTTP_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.HTTPTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("RETRY_BACKOFF_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			c.RetryBackoff = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("TRIAL_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TrialPeriod = time.Duration(n) * 24 * time.Hour
		}
	}

	envInt(&c.RetryAttempts, "RETRY_ATTEMPTS", 1)
	envInt(&c.MaxConcurrentChecks, "MAX_CONCURRENT_CHECKS", 1)
	envInt(&c.MaxEndpointsPerAcct, "MAX_ENDPOINTS_PER_ACCOUNT", 1)
	envInt(&c.AuthRPM, "AUTH_RPM", 0)
	envInt(&c.AuthBurst, "AUTH_BURST", 1)
	envInt(&c.SMTPPort, "SMTP_PORT", 1)

	if v := os.Getenv("ADMIN_API_KEYS"); v != "" {
		c.AdminAPIKeys = splitCSV(v)
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitCSV(v)
	}
}

// IsPostgres reports whether DatabaseURL selects the Postgres store.
func (c Config) IsPostgres() bool {
	u := strings.ToLower(c.DatabaseURL)
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt keeps the current value when the variable is unset, malformed, or
// below min.
func envInt(dst *int, key string, min int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= min {
		*dst = n
	}
}

// envDuration accepts Go duration strings ("90s", "5m") or plain seconds.
func envDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		*dst = time.Duration(n) * time.Second
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
