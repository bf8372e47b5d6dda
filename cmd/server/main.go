// Command server runs the meal-tracking HTTP API.
//
// Startup order: environment + config, logging, database, token issuers,
// app-store client, inference and storage collaborators, router, then the
// HTTP server with graceful shutdown. Tracing is optional and controlled by
// OTEL_ENABLED.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/foodio/go-meal-backend/internal/auth"
	"github.com/foodio/go-meal-backend/internal/config"
	httpapi "github.com/foodio/go-meal-backend/internal/http"
	"github.com/foodio/go-meal-backend/internal/nutrition"
	"github.com/foodio/go-meal-backend/internal/observability"
	"github.com/foodio/go-meal-backend/internal/repo"
	"github.com/foodio/go-meal-backend/internal/storage"
	"github.com/foodio/go-meal-backend/internal/subscription"
	"github.com/foodio/go-meal-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Msg("starting meal backend")

	// Tracing
	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Database
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Fatal().Err(err).Msg("gorm tracing failed")
		}
	}

	// Token issuers
	verifier := auth.NewVerifier(
		auth.IssuerConfig{
			Keys:      auth.NewKeySet(cfg.PrimaryIssuer.JWKSURL, nil),
			Audience:  cfg.PrimaryIssuer.Audience,
			IssuerURL: cfg.PrimaryIssuer.IssuerURL,
		},
		auth.IssuerConfig{
			Keys:      auth.NewKeySet(cfg.SecondaryIssuer.JWKSURL, nil),
			Audience:  cfg.SecondaryIssuer.Audience,
			IssuerURL: cfg.SecondaryIssuer.IssuerURL,
		},
	)

	// App-store receipt verification. A missing signing key leaves every
	// status check negative, which degrades subscribers to the free tier
	// instead of blocking startup.
	storeCfg := subscription.AppStoreConfig{
		BaseURL:        cfg.AppStore.BaseURL,
		KeyID:          cfg.AppStore.KeyID,
		IssuerID:       cfg.AppStore.IssuerID,
		ActiveStatuses: cfg.AppStore.ActiveStatuses,
	}
	if pem := cfg.AppStore.PrivateKeyPEM; pem != "" {
		key, err := subscription.ParseAppStoreKey([]byte(pem))
		if err != nil {
			log.Fatal().Err(err).Msg("app store key unusable")
		}
		storeCfg.PrivateKey = key
	} else {
		log.Warn().Msg("no app store key configured; receipt checks will report inactive")
	}
	receipts := subscription.NewAppStoreClient(storeCfg)

	// Inference and photo storage
	estimator := nutrition.NewEstimator(cfg.OpenAIKey, cfg.OpenAIModel)
	products := nutrition.NewFoodFactsClient(cfg.FoodFactsURL)
	store, err := storage.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		log.Fatal().Err(err).Msg("s3 setup failed")
	}

	// Router
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, httpapi.Dependencies{
		Tokens:    verifier,
		Receipts:  receipts,
		Estimator: estimator,
		Products:  products,
		Store:     store,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
}
