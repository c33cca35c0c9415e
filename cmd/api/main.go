// Package main provides the pharmacy platform API server entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/medleaf/pharma-platform/internal/api/handlers"
	"github.com/medleaf/pharma-platform/internal/api/middleware"
	"github.com/medleaf/pharma-platform/internal/auth"
	"github.com/medleaf/pharma-platform/internal/config"
	"github.com/medleaf/pharma-platform/internal/domain/account"
	"github.com/medleaf/pharma-platform/internal/domain/order"
	"github.com/medleaf/pharma-platform/internal/domain/pharmacy"
	"github.com/medleaf/pharma-platform/internal/domain/prescription"
	"github.com/medleaf/pharma-platform/internal/infrastructure/postgres"
	"github.com/medleaf/pharma-platform/internal/observability/metrics"
	"github.com/medleaf/pharma-platform/internal/observability/tracing"
	"github.com/medleaf/pharma-platform/internal/ratelimit"
	"github.com/medleaf/pharma-platform/internal/storage"
	"github.com/medleaf/pharma-platform/pkg/circuitbreaker"
)

func main() {
	logger := newLogger(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	ctx := context.Background()

	// Tracing is best effort: a missing collector should not keep the
	// API from serving.
	tracingCfg := tracing.DefaultConfig("pharma-api")
	tracingCfg.OTLPEndpoint = cfg.OTLPEndpoint
	shutdownTracing, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	m := metrics.New()

	// Connect to database and apply migrations
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	logger.Info("connected to database")

	// Redis backs the login and refresh rate limits
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	limiter := ratelimit.NewLimiter(rdb, logger)

	// Download URLs are signed with the media store secret when one is
	// configured, otherwise with the JWT secret.
	signingSecret := cfg.MediaStoreSecret
	if signingSecret == "" {
		signingSecret = cfg.JWTSecret
	}
	signer := storage.NewSigner(signingSecret)

	var files storage.Store
	switch cfg.StorageBackend {
	case "http":
		breakerCfg := circuitbreaker.DefaultConfig("media-store")
		breakerCfg.OnStateChange = func(name string, state circuitbreaker.State) {
			m.RecordBreakerState(name, string(state))
		}
		files = storage.NewMediaStore(cfg.MediaStoreURL, signer, circuitbreaker.New(breakerCfg, logger), logger)
		logger.Info("using HTTP media store", zap.String("url", cfg.MediaStoreURL))
	default:
		local, err := storage.NewLocal(cfg.StoragePath, cfg.PublicBaseURL, signer, logger)
		if err != nil {
			logger.Fatal("local storage init failed", zap.Error(err))
		}
		files = local
		logger.Info("using local storage", zap.String("path", cfg.StoragePath))
	}

	tokens, err := auth.NewManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		logger.Fatal("token manager init failed", zap.Error(err))
	}

	fileCfg := prescription.DefaultFileConfig()
	fileCfg.MaxBytes = int64(cfg.MaxFileSizeMB) << 20
	validator := prescription.NewFileValidator(fileCfg)

	// Initialize repositories
	accounts := account.NewRepository(pool, logger)
	prescriptions := prescription.NewRepository(pool, logger)
	catalog := pharmacy.NewRepository(pool, logger)
	orders := order.NewRepository(pool, prescriptions, logger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(accounts, tokens, logger)
	prescriptionHandler := handlers.NewPrescriptionHandler(prescriptions, files, validator, cfg.URLExpiry, m, logger)
	pharmacyHandler := handlers.NewPharmacyHandler(catalog, logger)
	orderHandler := handlers.NewOrderHandler(orders, catalog, prescriptions, m, logger)
	filesHandler := handlers.NewFilesHandler(files, signer, logger)

	requireAuth := middleware.JWTAuth(tokens)
	loginLimit := middleware.RateLimit(limiter, "login", cfg.LoginRateLimit, cfg.RateLimitWindow, m)
	refreshLimit := middleware.RateLimit(limiter, "refresh", cfg.RefreshRateLimit, cfg.RateLimitWindow, m)

	// Setup router
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.Tracing("pharma-api"))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Mount("/auth", authHandler.Routes(loginLimit, refreshLimit, requireAuth))
		r.Mount("/files", filesHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Mount("/prescriptions", prescriptionHandler.Routes())
			r.Mount("/pharmacies", pharmacyHandler.Routes())
			r.Mount("/medicines", pharmacyHandler.MedicineRoutes())
			r.Mount("/orders", orderHandler.Routes())
		})
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting API server", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// newLogger builds a production logger at the given level, defaulting
// to info when the level is empty or unparseable.
func newLogger(level string) *zap.Logger {
	logCfg := zap.NewProductionConfig()
	if level != "" {
		if lvl, err := zapcore.ParseLevel(level); err == nil {
			logCfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	logger, err := logCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
