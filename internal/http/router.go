// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/foodio/go-meal-backend/internal/auth"
	"github.com/foodio/go-meal-backend/internal/config"
	"github.com/foodio/go-meal-backend/internal/http/handlers"
	"github.com/foodio/go-meal-backend/internal/http/middleware"
	"github.com/foodio/go-meal-backend/internal/nutrition"
	"github.com/foodio/go-meal-backend/internal/repo"
	"github.com/foodio/go-meal-backend/internal/services"
	"github.com/foodio/go-meal-backend/internal/storage"
	"github.com/foodio/go-meal-backend/internal/subscription"
)

// Dependencies bundles the externally constructed collaborators the router
// injects into services. Everything here is built once in main and shared
// across requests.
type Dependencies struct {
	// Tokens verifies bearer tokens against the configured issuers.
	Tokens middleware.TokenVerifier
	// Receipts answers subscription-status questions at the app store.
	Receipts subscription.ReceiptVerifier
	// Estimator produces macro estimates and goal plans.
	Estimator nutrition.MealEstimator
	// Products resolves barcodes to product facts.
	Products nutrition.ProductClient
	// Store holds uploaded meal photos.
	Store storage.ObjectStore
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned authenticated API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//  8. Authentication (API group only; health and metrics stay open)
//  9. Idempotency validator (after auth so lookups are keyed by user)
//  10. Rate limiter (per user/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Dependencies, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction. Receipts ride in bodies, never
	// headers, so the built-in header masks suffice.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit. Multipart meal photos dominate request size;
	// the per-file cap in the handler is tighter than this outer bound.
	r.Use(limitBody(12 << 20))

	// Response compression; /metrics is scraped locally and stays uncompressed.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Accept-Language", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
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
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Accept-Language", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
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
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: admission controller ← quota config, then
	// services ← repo/db/collaborators.
	admission := &subscription.Controller{
		DB:       db,
		Verifier: deps.Receipts,
		Limits: subscription.QuotaLimits{
			Inactive: cfg.Quota.FreeDaily,
			Active:   cfg.Quota.SubscriberDaily,
		},
		SpotCheckInterval: cfg.Quota.SpotCheckInterval,
	}

	mealSvc := &services.MealService{
		DB:             db,
		Admission:      admission,
		Estimator:      deps.Estimator,
		Products:       deps.Products,
		Store:          deps.Store,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	goalSvc := &services.GoalService{
		DB:        db,
		Admission: admission,
		Estimator: deps.Estimator,
	}
	profileSvc := &services.ProfileService{DB: db}
	subSvc := &services.SubscriptionService{DB: db, Verifier: deps.Receipts}

	h := handlers.New(mealSvc, goalSvc, profileSvc, subSvc)

	// Authenticated API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)

	// 8) Authentication resolves the issuer subject to a local user id.
	api.Use(middleware.Authenticate(deps.Tokens, func(ctx context.Context, claims auth.Claims) (int64, error) {
		u, err := repo.GetOrCreateUserBySubject(ctx, db, claims.Subject, claims.Email)
		if err != nil {
			return 0, err
		}
		return u.ID, nil
	}))

	// 9) Idempotency validation. Runs after auth so the lookup is keyed by
	// the real user id; the submission handlers persist and replay records.
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID int64, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 10) Token-bucket rate limiter per user (falls back to IP), after the
	// idempotency check so replays bypass limiting.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api.Use(rl.Handler())
	{
		// Meals
		api.POST("/meals", h.PostMeal)
		api.GET("/meals", h.ListMeals)
		api.POST("/meals/barcode", h.PostMealBarcode)
		api.GET("/meals/day", h.MealsByDay)
		api.GET("/meals/:id", h.GetMeal)
		api.PATCH("/meals/:id/added", h.SetMealAdded)

		// Goals and related journal entries
		api.POST("/goal", h.PostGoal)
		api.GET("/goal", h.GetGoal)
		api.PATCH("/goal", h.PatchGoal)
		api.POST("/problems", h.PostProblem)
		api.GET("/problems", h.ListProblems)
		api.PUT("/problems/:id", h.PutProblem)
		api.DELETE("/problems/:id", h.DeleteProblem)
		api.POST("/weights", h.PostWeight)

		// Profile
		api.GET("/profile", h.GetProfile)
		api.PATCH("/profile", h.PatchProfile)
		api.DELETE("/profile", h.DeleteProfile)

		// Subscription
		api.POST("/subscription", h.PostSubscription)
		api.GET("/subscription", h.GetSubscription)
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
