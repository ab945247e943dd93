// Package config provides centralized configuration for the license server.
// It loads configuration from CLI flags and environment variables (with an
// optional .env file), validates required secrets, and provides defaults.
//
// Handlers never read the environment directly; they receive this immutable
// struct, constructed once at process start.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ctrlv-app/license-server/internal/ratelimit"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr string

	// Database
	DatabasePath string
	DatabaseKey  string // optional hex SQLCipher key

	// Magic codes and sessions
	MagicCodePepper  string
	CodeLifetime     time.Duration
	SessionLifetime  time.Duration
	TrialDays        int
	AllowDevCodeBody bool // return the plaintext code when delivery is unavailable

	// Paddle webhooks
	PaddleWebhookSecret string
	SignatureTolerance  time.Duration

	// Resend email
	ResendAPIKey    string
	ResendFromEmail string

	// Mock service flag (CLI flag, not env var)
	NoEmail bool

	// Rate limiting
	CodeRequestLimit ratelimit.Config // per email, request-magic-code
	CodeVerifyLimit  ratelimit.Config // per IP, verify-magic-code
}

// ValidationError collects configuration validation issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags registers and parses CLI flags. Call before Load.
func ParseFlags() (noEmail bool, addr, dbPath string) {
	flag.BoolVar(&noEmail, "no-email", false, "Use mock email service (captures emails instead of sending)")
	flag.StringVar(&addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	flag.StringVar(&dbPath, "db", "", "License database path (overrides LICENSE_DB_PATH env var)")
	flag.Parse()
	return noEmail, addr, dbPath
}

// Load builds the configuration from environment variables and flag values.
// A .env file in the working directory is loaded first if present.
func Load(noEmail bool, addr, dbPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{NoEmail: noEmail}

	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if addr != "" {
		cfg.ListenAddr = addr
	}

	cfg.DatabasePath = getEnvOrDefault("LICENSE_DB_PATH", "./data/license.db")
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	cfg.DatabaseKey = strings.TrimSpace(os.Getenv("LICENSE_DB_KEY"))

	cfg.MagicCodePepper = os.Getenv("MAGIC_CODE_PEPPER")
	cfg.CodeLifetime = time.Duration(parseIntOrDefault("MAGIC_CODE_LIFETIME_MINUTES", 10)) * time.Minute
	cfg.SessionLifetime = time.Duration(parseIntOrDefault("SESSION_LIFETIME_DAYS", 30)) * 24 * time.Hour
	cfg.TrialDays = parseIntOrDefault("TRIAL_DAYS", 14)
	cfg.AllowDevCodeBody = os.Getenv("ALLOW_DEV_MAGIC_CODE") == "true"

	cfg.PaddleWebhookSecret = os.Getenv("PADDLE_WEBHOOK_SECRET")
	cfg.SignatureTolerance = time.Duration(parseIntOrDefault("PADDLE_SIGNATURE_TOLERANCE_SECONDS", 300)) * time.Second

	cfg.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	cfg.ResendFromEmail = os.Getenv("RESEND_FROM_EMAIL")

	cfg.CodeRequestLimit = ratelimit.Config{
		RPS:             parseFloat64OrDefault("RATE_LIMIT_CODE_RPS", 0.1),
		Burst:           parseIntOrDefault("RATE_LIMIT_CODE_BURST", 3),
		CleanupInterval: time.Hour,
	}
	cfg.CodeVerifyLimit = ratelimit.Config{
		RPS:             parseFloat64OrDefault("RATE_LIMIT_VERIFY_RPS", 10.0/60.0),
		Burst:           parseIntOrDefault("RATE_LIMIT_VERIFY_BURST", 20),
		CleanupInterval: time.Hour,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	var problems []string

	if c.MagicCodePepper == "" {
		problems = append(problems, "MAGIC_CODE_PEPPER is required (generate with: openssl rand -hex 32)")
	}
	if c.PaddleWebhookSecret == "" {
		problems = append(problems, "PADDLE_WEBHOOK_SECRET is required (from the Paddle notification settings)")
	}
	if !c.NoEmail && !c.AllowDevCodeBody {
		if c.ResendAPIKey == "" {
			problems = append(problems, "RESEND_API_KEY is required (set env var, use --no-email, or set ALLOW_DEV_MAGIC_CODE=true)")
		}
		if c.ResendFromEmail == "" {
			problems = append(problems, "RESEND_FROM_EMAIL is required (a sender verified in Resend)")
		}
	}
	if c.CodeLifetime <= 0 {
		problems = append(problems, "MAGIC_CODE_LIFETIME_MINUTES must be positive")
	}
	if c.SessionLifetime <= 0 {
		problems = append(problems, "SESSION_LIFETIME_DAYS must be positive")
	}
	if c.TrialDays < 0 {
		problems = append(problems, "TRIAL_DAYS must not be negative")
	}
	if c.SignatureTolerance <= 0 {
		problems = append(problems, "PADDLE_SIGNATURE_TOLERANCE_SECONDS must be positive")
	}

	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

// EmailConfigured reports whether a real delivery provider is available.
func (c *Config) EmailConfigured() bool {
	return c.ResendAPIKey != "" && c.ResendFromEmail != ""
}

// PrintStartupSummary prints a human-readable configuration summary to stderr.
func (c *Config) PrintStartupSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "ctrl+v license server starting...")
	if c.NoEmail {
		fmt.Fprintln(os.Stderr, "  Email:   Mock (--no-email)")
	} else if c.EmailConfigured() {
		fmt.Fprintf(os.Stderr, "  Email:   Resend (from: %s)\n", c.ResendFromEmail)
	} else {
		fmt.Fprintln(os.Stderr, "  Email:   NOT CONFIGURED (dev code responses enabled)")
	}
	if c.DatabaseKey != "" {
		fmt.Fprintf(os.Stderr, "  DB:      %s (encrypted)\n", c.DatabasePath)
	} else {
		fmt.Fprintf(os.Stderr, "  DB:      %s\n", c.DatabasePath)
	}
	fmt.Fprintf(os.Stderr, "  Trial:   %d days\n", c.TrialDays)
	fmt.Fprintf(os.Stderr, "  Listen:  %s\n", c.ListenAddr)
	fmt.Fprintln(os.Stderr, "")
}

// MustLoad loads configuration and panics if validation fails. Use in
// main() to fail fast on bad config.
func MustLoad(noEmail bool, addr, dbPath string) *Config {
	cfg, err := Load(noEmail, addr, dbPath)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
