package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/aptix/internal"
	"github.com/DukeRupert/aptix/internal/ai"
	"github.com/DukeRupert/aptix/internal/ai/mock"
	"github.com/DukeRupert/aptix/internal/ai/openai"
	"github.com/DukeRupert/aptix/internal/billing"
	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/DukeRupert/aptix/internal/handler"
	"github.com/DukeRupert/aptix/internal/metrics"
	"github.com/DukeRupert/aptix/internal/middleware"
	"github.com/DukeRupert/aptix/internal/repository"
	"github.com/DukeRupert/aptix/internal/service"
	"github.com/DukeRupert/aptix/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// ==========================================================================
	// Persistence
	// ==========================================================================

	var (
		profiles service.ProfileStore
		history  service.HistoryStore
	)
	if cfg.DatabaseUrl != "" {
		db, err := sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
		if err := internal.RunMigrations(db, logger); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		profiles = repository.NewUserStore(db)
		history = repository.NewHistoryStore(db)
		logger.Info("Database ready")
	} else {
		mem := repository.NewMemoryUserStore()
		profiles, history = mem, mem
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	objects, err := storage.New(storage.Config{
		Provider: cfg.StorageProvider,
		Local:    storage.LocalConfig{BasePath: cfg.LocalStoragePath},
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// ==========================================================================
	// Billing
	// ==========================================================================

	var billingSvc billing.Service
	if cfg.StripeSecretKey != "" {
		billingSvc = billing.NewStripeService(cfg.StripeSecretKey)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, checkout and portal are disabled")
	}
	prices := billing.PriceTable{
		MonthlyPriceID: cfg.StripeMonthlyPriceID,
		YearlyPriceID:  cfg.StripeYearlyPriceID,
	}

	var ledger billing.EventLedger = billing.NopLedger{}
	if cfg.RedisURL != "" {
		client, err := billing.ConnectRedis(ctx, cfg.RedisURL, 5, time.Second)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer client.Close()
		ledger = billing.NewRedisLedger(client, cfg.EventLedgerTTL)
		logger.Info("Event ledger ready")
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	provider, err := newAIProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("ai provider initialization failed: %w", err)
	}

	clock := domain.SystemClock{}
	meter := service.NewUsageMeter(profiles, service.UsageConfig{
		DailyLimit: cfg.FreeDailyLimit,
		Location:   cfg.UsageLocation,
		Clock:      clock,
	}, logger)
	reconciler := service.NewReconciler(profiles, billingSvc, prices, clock, logger)
	userService := service.NewUserService(profiles, clock, cfg.UsageLocation, logger)
	checkoutService := service.NewCheckoutService(profiles, billingSvc, prices, cfg.FrontendURL, logger)
	generationService := service.NewGenerationService(profiles, history, meter, provider, objects, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"message":   "Server is running",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.Handle("GET /metrics", middleware.BasicAuth("metrics", cfg.MetricsUsername, cfg.MetricsPassword)(promhttp.Handler()))

	handler.NewWebhookHandler(billing.NewVerifier(cfg.StripeWebhookSecret), ledger, reconciler, logger).RegisterRoutes(mux)
	handler.NewBillingHandler(checkoutService, logger).RegisterRoutes(mux)
	handler.NewUserHandler(userService, logger).RegisterRoutes(mux)

	var limit func(http.Handler) http.Handler
	if cfg.GenerateRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.GenerateRateLimit, cfg.GenerateRateWindow)
		defer limiter.Close()
		limit = middleware.NewRateLimitMiddleware(limiter, logger).Limit
	}
	handler.NewUsageHandler(meter, generationService, logger).RegisterRoutes(mux, limit)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	// metrics.Middleware reads the matched route pattern, so it wraps the mux directly.
	stack := middleware.Stack(
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		middleware.NewSecurityHeadersMiddleware(!cfg.IsDevelopment(), cfg.FrontendURL).Handler,
		metrics.Middleware,
	)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           stack(mux),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.AIRequestTimeout + 30*time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// newAIProvider selects the configured content provider.
func newAIProvider(cfg *internal.Config, logger *slog.Logger) (ai.Provider, error) {
	if cfg.AIProvider != "openai" {
		logger.Info("Using mock AI provider")
		return mock.New(logger), nil
	}
	return openai.New(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		ProviderConfig: ai.ProviderConfig{
			MaxRetries:     cfg.AIMaxRetries,
			RetryBaseDelay: cfg.AIRetryBaseDelay,
			RequestTimeout: cfg.AIRequestTimeout,
		},
	}, logger)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
