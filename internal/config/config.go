// config.go

// Environment variable loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Profiles accepted in APP_ENV.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// minSecretLen matches the session manager's requirement on SECRET_KEY_BASE.
const minSecretLen = 32

// Config holds all env configuration vars for murmur.
type Config struct {
	AppEnv        string
	DatabaseURL   string
	RedisURL      string
	SecretKeyBase string
	Port          string
	CookieDomain  string
	CookieSecure  bool
	LogLevel      slog.Level

	// SMTP configuration for outbound email. All optional -- empty Host logs links instead of sending.
	SMTPHost        string
	SMTPPort        string // defaults to 587
	SMTPUsername    string
	SMTPPassword    string
	SMTPFromAddress string

	// Link bases, e.g. https://murmur.example/account_activations.
	ActivationURLBase string
	ResetURLBase      string

	// MailQueueMax caps the Redis mail queue. 0 = unlimited.
	MailQueueMax int64

	// MailWorker runs the mail queue consumer inside `serve`. Disable when a
	// separate process drains the queue.
	MailWorker bool

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration

	// SeedUsers is how many fake users `murmur seed` creates.
	SeedUsers int

	// TurnstileSecret enables the captcha check on signup and reset requests. Empty disables it.
	TurnstileSecret string
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (DATABASE_URL, REDIS_URL, SECRET_KEY_BASE) are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.AppEnv = strings.ToLower(os.Getenv("APP_ENV"))
	switch cfg.AppEnv {
	case "":
		cfg.AppEnv = EnvDevelopment
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		return nil, fmt.Errorf("APP_ENV must be one of development, test, production; got %q", cfg.AppEnv)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.SecretKeyBase = os.Getenv("SECRET_KEY_BASE")
	if len(cfg.SecretKeyBase) < minSecretLen {
		return nil, fmt.Errorf("SECRET_KEY_BASE is required and must be at least %d bytes", minSecretLen)
	}

	// Attempt to get port num, default to 7865
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	cfg.CookieDomain = os.Getenv("COOKIE_DOMAIN")
	// Default true -- only explicit "false" allows cookies over plain HTTP.
	cfg.CookieSecure = os.Getenv("COOKIE_SECURE") != "false"

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = os.Getenv("SMTP_PORT")
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = "587"
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFromAddress = os.Getenv("SMTP_FROM")

	base := "http://localhost:" + cfg.Port
	cfg.ActivationURLBase = envString("ACTIVATION_URL_BASE", base+"/account_activations")
	cfg.ResetURLBase = envString("RESET_URL_BASE", base+"/password_resets")

	// When SMTP is configured, URL bases must use HTTPS.
	// Tokens in activation/reset links must not travel over plain HTTP.
	if cfg.SMTPHost != "" {
		if !strings.HasPrefix(cfg.ActivationURLBase, "https://") {
			return nil, fmt.Errorf("ACTIVATION_URL_BASE must be set and start with https://")
		}
		if !strings.HasPrefix(cfg.ResetURLBase, "https://") {
			return nil, fmt.Errorf("RESET_URL_BASE must be set and start with https://")
		}
		if cfg.SMTPFromAddress == "" {
			return nil, fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
		}
	}

	cfg.MailQueueMax = int64(envInt("MAIL_QUEUE_MAX", 1000))
	cfg.MailWorker = envBool("MAIL_WORKER", true)
	cfg.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.SeedUsers = envInt("SEED_USERS", 99)
	cfg.TurnstileSecret = os.Getenv("TURNSTILE_SECRET")

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envBool reads an env var as bool, returning def if missing or unparseable.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}
