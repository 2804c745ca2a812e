// Package config loads the service configuration from the environment.
//
// LOADING ORDER:
//  1. A local .env file is read with godotenv (skipped on Railway, where the
//     platform injects variables directly).
//  2. Every key is read from the process environment with a default.
//  3. validate() rejects missing required values and half-configured
//     integrations before any client is constructed.
//
// Optional integrations (LLM, Mercado Pago, Telegram, SMTP, Redis, PostHog)
// stay disabled when their keys are empty. Enabled() helpers tell the
// server which clients to build.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully parsed and validated service configuration.
type Config struct {
	Port        int
	Env         string
	LogLevel    slog.Level
	DBPath      string
	StaticDir   string
	FrontendURL string
	BackendURL  string
	CORSOrigins []string

	Clerk        ClerkConfig
	AdminEmails  []string
	MercadoLivre MercadoLivreConfig
	MercadoPago  MercadoPagoConfig
	OpenAI       OpenAIConfig
	Telegram     TelegramConfig
	SMTP         SMTPConfig
	Workers      WorkerConfig
	PostHog      PostHogConfig

	RedisURL           string
	TokenEncryptionKey string
	HTTPClientTimeout  time.Duration

	FeedbackRetention         int
	FeedbackRetentionSchedule string
}

type ClerkConfig struct {
	JWKSURL        string
	Issuer         string
	PublishableKey string
	FrontendAPI    string
	SecretKey      string
	APIURL         string
	// DevJWTSecret enables HS256 identity tokens for local development and
	// tests. Ignored when JWKSURL is set.
	DevJWTSecret string
}

type MercadoLivreConfig struct {
	AppID       string
	SecretKey   string
	RedirectURI string
	APIURL      string
	AuthURL     string
	// RateLimit is the client-side requests-per-second ceiling. Zero disables it.
	RateLimit float64
}

func (c MercadoLivreConfig) Enabled() bool { return c.AppID != "" }

type MercadoPagoConfig struct {
	AccessToken string
	APIURL      string
	PlanValue   float64
	PlanReason  string
}

func (c MercadoPagoConfig) Enabled() bool { return c.AccessToken != "" }

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

func (c OpenAIConfig) Enabled() bool { return c.APIKey != "" }

type TelegramConfig struct {
	BotToken string
	APIURL   string
}

func (c TelegramConfig) Enabled() bool { return c.BotToken != "" }

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" }

type WorkerConfig struct {
	Count      int
	QueueSize  int
	JobTimeout time.Duration
}

type PostHogConfig struct {
	APIKey   string
	Endpoint string
}

func (c PostHogConfig) Enabled() bool { return c.APIKey != "" }

// Load reads configuration from .env (when present) and the environment.
func Load() (Config, error) {
	if os.Getenv("RAILWAY_ENVIRONMENT") == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: reading .env: %w", err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() (Config, error) {
	var p parser

	cfg := Config{
		Port:        p.int("PORT", 8080),
		Env:         str("APP_ENV", "production"),
		LogLevel:    p.level("LOG_LEVEL", slog.LevelInfo),
		DBPath:      str("DB_PATH", "data/mercado.db"),
		StaticDir:   str("STATIC_DIR", "web/static"),
		FrontendURL: strings.TrimRight(str("FRONTEND_URL", "http://localhost:8080"), "/"),
		BackendURL:  strings.TrimRight(str("BACKEND_URL", "http://localhost:8080"), "/"),
		CORSOrigins: list("CORS_ORIGINS", false),

		Clerk: ClerkConfig{
			JWKSURL:        str("CLERK_JWKS_URL", ""),
			Issuer:         str("CLERK_ISSUER", ""),
			PublishableKey: str("CLERK_PUBLISHABLE_KEY", ""),
			FrontendAPI:    str("CLERK_FRONTEND_API", ""),
			SecretKey:      str("CLERK_SECRET_KEY", ""),
			APIURL:         str("CLERK_API_URL", "https://api.clerk.com"),
			DevJWTSecret:   str("DEV_JWT_SECRET", ""),
		},
		AdminEmails: list("ADMIN_EMAILS", true),

		MercadoLivre: MercadoLivreConfig{
			AppID:       str("ML_APP_ID", ""),
			SecretKey:   str("ML_SECRET_KEY", ""),
			RedirectURI: str("ML_REDIRECT_URI", ""),
			APIURL:      str("ML_API_URL", "https://api.mercadolibre.com"),
			AuthURL:     str("ML_AUTH_URL", "https://auth.mercadolivre.com.br/authorization"),
			RateLimit:   p.float("ML_RATE_LIMIT", 10),
		},
		MercadoPago: MercadoPagoConfig{
			AccessToken: str("MP_ACCESS_TOKEN", ""),
			APIURL:      str("MP_API_URL", "https://api.mercadopago.com"),
			PlanValue:   p.float("MP_PLAN_VALUE", 29.90),
			PlanReason:  str("MP_PLAN_REASON", "Mercado Insights - Plano Mensal"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  str("OPENAI_API_KEY", ""),
			Model:   str("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: str("OPENAI_BASE_URL", ""),
		},
		Telegram: TelegramConfig{
			BotToken: str("TELEGRAM_BOT_TOKEN", ""),
			APIURL:   str("TELEGRAM_API_URL", "https://api.telegram.org"),
		},
		SMTP: SMTPConfig{
			Host:     str("SMTP_HOST", ""),
			Port:     p.int("SMTP_PORT", 587),
			User:     str("SMTP_USER", ""),
			Password: str("SMTP_PASSWORD", ""),
			From:     str("SMTP_FROM", ""),
		},
		Workers: WorkerConfig{
			Count:      p.int("WORKER_COUNT", 4),
			QueueSize:  p.int("WORKER_QUEUE_SIZE", 64),
			JobTimeout: p.duration("WORKER_JOB_TIMEOUT", 2*time.Minute),
		},
		PostHog: PostHogConfig{
			APIKey:   str("POSTHOG_API_KEY", ""),
			Endpoint: str("POSTHOG_ENDPOINT", "https://us.i.posthog.com"),
		},

		RedisURL:           str("REDIS_URL", ""),
		TokenEncryptionKey: str("TOKEN_ENCRYPTION_KEY", ""),
		HTTPClientTimeout:  p.duration("HTTP_CLIENT_TIMEOUT", 15*time.Second),

		FeedbackRetention:         p.int("FEEDBACK_RETENTION", 200),
		FeedbackRetentionSchedule: str("FEEDBACK_RETENTION_SCHEDULE", "@daily"),
	}

	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in local development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c Config) validate() error {
	var errs []error

	if c.Clerk.JWKSURL == "" && c.Clerk.DevJWTSecret == "" {
		errs = append(errs, errors.New("one of CLERK_JWKS_URL or DEV_JWT_SECRET is required"))
	}
	if len(c.TokenEncryptionKey) < 32 {
		errs = append(errs, errors.New("TOKEN_ENCRYPTION_KEY must be at least 32 characters"))
	}
	if c.MercadoLivre.Enabled() && (c.MercadoLivre.SecretKey == "" || c.MercadoLivre.RedirectURI == "") {
		errs = append(errs, errors.New("ML_APP_ID requires ML_SECRET_KEY and ML_REDIRECT_URI"))
	}
	if c.SMTP.Enabled() && c.SMTP.From == "" {
		errs = append(errs, errors.New("SMTP_HOST requires SMTP_FROM"))
	}
	if (c.SMTP.User == "") != (c.SMTP.Password == "") {
		errs = append(errs, errors.New("SMTP_USER and SMTP_PASSWORD must be set together"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.Workers.Count < 1 || c.Workers.QueueSize < 1 {
		errs = append(errs, errors.New("WORKER_COUNT and WORKER_QUEUE_SIZE must be positive"))
	}
	if c.FeedbackRetention < 1 {
		errs = append(errs, errors.New("FEEDBACK_RETENTION must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// list splits a comma separated variable, dropping empty entries.
func list(key string, lower bool) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lower {
			part = strings.ToLower(part)
		}
		out = append(out, part)
	}
	return out
}

// parser records the first malformed value so FromEnv can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: invalid %s=%q: %w", key, raw, err)
	}
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) level(key string, def slog.Level) slog.Level {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		p.fail(key, raw, err)
		return def
	}
	return lvl
}
