// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/credentia/go-verify-gateway/internal/auth"
	"github.com/credentia/go-verify-gateway/internal/config"
	"github.com/credentia/go-verify-gateway/internal/http/handlers"
	"github.com/credentia/go-verify-gateway/internal/http/middleware"
	"github.com/credentia/go-verify-gateway/internal/limiter"
	"github.com/credentia/go-verify-gateway/internal/provider"
	"github.com/credentia/go-verify-gateway/internal/services"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), the edge and
// per-route rate limiters, CORS and security headers, health and metrics
// endpoints, and then mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Response compression
//  7. Metrics
//  8. Edge token-bucket limiter (per subject/IP abuse shield; the durable
//     per-route quotas run inside the handler pipeline)
//  9. CORS and Security headers
//
// When verifier is nil a provider client is built from cfg.Provider; tests
// inject a stub.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, verifier provider.Verifier) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"apikey",
			"x-client-info",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit. Generous because the verify endpoint accepts
	// a base64 certificate image; the 15 MB field cap is enforced at the
	// validator.
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 6) Compress responses for clients that accept it
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Edge token-bucket limiter per subject/IP
	if cfg.RateLimit.EdgeRPS > 0 {
		el := middleware.NewEdgeLimiter(cfg.RateLimit.EdgeRPS, cfg.RateLimit.EdgeBurst, middleware.KeyByClientIP())
		r.Use(el.Handler())
	}

	// 9) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "x-client-info", "apikey"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllow, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: limiters ← counter store, services ← provider/db
	var store limiter.CounterStore
	switch cfg.RateLimit.Backend {
	case "redis":
		store = limiter.NewRedisStore(cfg.Redis)
	default:
		store = limiter.NewGormStore(db)
	}
	limits := handlers.Limiters{
		Verify: limiter.New(store, cfg.RateLimit.Verify, cfg.RateLimit.FailClosed),
		Lookup: limiter.New(store, cfg.RateLimit.Lookup, cfg.RateLimit.FailClosed),
		Roles:  limiter.New(store, cfg.RateLimit.Roles, cfg.RateLimit.FailClosed),
	}

	if verifier == nil {
		verifier = provider.NewClient(cfg.Provider)
	}
	verifySvc := services.NewVerifyService(verifier)
	lookupSvc := &services.LookupService{DB: db}
	roleSvc := &services.RoleService{DB: db}

	h := handlers.New(auth.NewVerifier(cfg.Auth), verifySvc, lookupSvc, roleSvc, limits)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/verify", h.Verify())
		api.POST("/certificates/lookup", h.Lookup())
		api.POST("/roles", h.AssignRole())
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
