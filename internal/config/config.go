// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, storage paths, per-route rate limits,
// identity verification, the upstream verification provider, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/credentia/go-verify-gateway/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-verify-gateway")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig holds the settings for bearer-token verification.
type AuthConfig struct {
	JWTSecret string // HMAC key used to verify HS256 access tokens
	Issuer    string // expected "iss" claim; empty disables the issuer check
}

// RouteLimit describes one fixed-window quota: at most MaxRequests per
// identity within Window, counters namespaced by KeyPrefix.
type RouteLimit struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

// RateLimitConfig groups the durable per-route quotas and the process-local
// edge limiter settings.
//
// FailClosed selects the policy applied when the shared counter store is
// unreachable: false (default) allows the request through ("fail open"),
// true denies it. Either way the event is logged as a security-relevant
// incident.
type RateLimitConfig struct {
	Backend    string // "sqlite" or "redis"
	FailClosed bool

	Verify RouteLimit // AI verification, per subject
	Lookup RouteLimit // public certificate lookup, per client IP
	Roles  RouteLimit // role assignment, per subject

	// Edge token-bucket limiter (process-local abuse shield in front of the
	// durable quotas).
	EdgeRPS   float64
	EdgeBurst int
}

// ProviderConfig holds settings for the upstream generative verification
// provider.
type ProviderConfig struct {
	BaseURL    string        // e.g. "https://ai.gateway.example.dev/v1"
	APIKey     string        // bearer key sent to the provider
	Model      string        // model identifier, e.g. "google/gemini-2.5-flash"
	Timeout    time.Duration // per-attempt request deadline
	MaxRetries int           // extra attempts after the first (0 disables retry)
	Backoff    time.Duration // delay before the retry attempt
}

// RedisConfig holds connection settings for the optional Redis counter store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 30s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Storage
	DBPath string // SQLite path (counters, certificates, roles)

	// Request body cap. Must admit a base64 certificate image (the 15 MB raw
	// limit is enforced at the validator) plus JSON overhead.
	MaxBodyBytes int64

	// Identity
	Auth AuthConfig

	// Rate limiting
	RateLimit RateLimitConfig
	Redis     RedisConfig

	// Upstream verification provider
	Provider ProviderConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "gateway.db"),

		// 20 MiB default: a 15 MB base64 image plus JSON envelope.
		MaxBodyBytes: int64(getint("MAX_BODY_BYTES", 20<<20)),

		// Identity
		Auth: AuthConfig{
			JWTSecret: getenv("JWT_SECRET", ""),
			Issuer:    getenv("JWT_ISSUER", ""),
		},

		// Rate limiting
		RateLimit: RateLimitConfig{
			Backend:    strings.ToLower(getenv("RATE_LIMIT_BACKEND", "sqlite")),
			FailClosed: getbool("RATE_LIMIT_FAIL_CLOSED", false),
			Verify: RouteLimit{
				MaxRequests: getint("VERIFY_RATE_MAX", 10),
				Window:      getdur("VERIFY_RATE_WINDOW", time.Hour),
				KeyPrefix:   "verify",
			},
			Lookup: RouteLimit{
				MaxRequests: getint("LOOKUP_RATE_MAX", 20),
				Window:      getdur("LOOKUP_RATE_WINDOW", 5*time.Minute),
				KeyPrefix:   "lookup",
			},
			Roles: RouteLimit{
				MaxRequests: getint("ROLES_RATE_MAX", 3),
				Window:      getdur("ROLES_RATE_WINDOW", time.Hour),
				KeyPrefix:   "roles",
			},
			EdgeRPS:   getfloat("EDGE_RATE_RPS", 25.0),
			EdgeBurst: getint("EDGE_RATE_BURST", 50),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		// Upstream verification provider
		Provider: ProviderConfig{
			BaseURL:    getenv("PROVIDER_BASE_URL", "https://ai.gateway.lovable.dev/v1"),
			// OPENROUTER_API_KEY is the name the hosted provider hands out.
			APIKey: sysutil.FirstNonEmpty(os.Getenv("PROVIDER_API_KEY"), os.Getenv("OPENROUTER_API_KEY")),
			Model:      getenv("PROVIDER_MODEL", "google/gemini-2.5-flash"),
			Timeout:    getdur("PROVIDER_TIMEOUT", 25*time.Second),
			MaxRetries: getint("PROVIDER_MAX_RETRIES", 1),
			Backoff:    getdur("PROVIDER_RETRY_BACKOFF", 500*time.Millisecond),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-verify-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	// An empty HMAC key would let anyone mint passing tokens.
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET must be set")
	}
	switch cfg.RateLimit.Backend {
	case "sqlite", "redis":
	default:
		return cfg, errors.New("RATE_LIMIT_BACKEND must be sqlite or redis")
	}
	for _, rl := range []RouteLimit{cfg.RateLimit.Verify, cfg.RateLimit.Lookup, cfg.RateLimit.Roles} {
		if rl.MaxRequests < 1 {
			return cfg, errors.New("route rate limits must allow at least 1 request")
		}
		if rl.Window <= 0 {
			return cfg, errors.New("route rate limit windows must be positive")
		}
	}
	if cfg.RateLimit.EdgeRPS < 0 {
		return cfg, errors.New("EDGE_RATE_RPS must be >= 0")
	}
	if cfg.RateLimit.EdgeBurst < 1 {
		return cfg, errors.New("EDGE_RATE_BURST must be >= 1")
	}
	if strings.TrimSpace(cfg.Provider.BaseURL) == "" {
		return cfg, errors.New("PROVIDER_BASE_URL must not be empty")
	}
	if cfg.Provider.Timeout <= 0 {
		return cfg, errors.New("PROVIDER_TIMEOUT must be a positive duration")
	}
	if cfg.Provider.MaxRetries < 0 {
		return cfg, errors.New("PROVIDER_MAX_RETRIES must be >= 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	v, ok := os.LookupEnv(k)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return sysutil.IsTruthy(v)
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
