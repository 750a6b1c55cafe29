package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opslink/opslink/internal/audit"
	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/events"
	"github.com/opslink/opslink/internal/featureflags"
	"github.com/opslink/opslink/internal/handler"
	"github.com/opslink/opslink/internal/infrastructure/logger"
	"github.com/opslink/opslink/internal/infrastructure/redis"
	"github.com/opslink/opslink/internal/observability/metrics"
	"github.com/opslink/opslink/internal/observability/tracing"
	"github.com/opslink/opslink/internal/repository"
	"github.com/opslink/opslink/internal/security/auth"
	"github.com/opslink/opslink/internal/security/middleware"
	"github.com/opslink/opslink/internal/security/ratelimit"
	"github.com/opslink/opslink/internal/service"
	"github.com/opslink/opslink/internal/worker"
	"github.com/opslink/opslink/pkg/config"
	"github.com/opslink/opslink/pkg/database"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting OpsLink server", slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize tracing (no-op unless OTEL_EXPORTER_OTLP_ENDPOINT is set)
	shutdownTracing, err := tracing.Init(ctx, log, "opslink", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Connect to Postgres
	pool, err := database.NewConnectionPool(ctx, &database.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, log)
	if err != nil {
		log.Error("failed to connect to Postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	db := pool.GetDB()

	// 5. Connect to Redis for the live event stream
	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()
	publisher := events.NewRedisPublisher(redisClient, log)

	// 6. Initialize repositories
	incidentRepo := repository.NewPostgresIncidentRepository(db, log)
	unitRepo := repository.NewPostgresUnitRepository(db, log)
	userRepo := repository.NewPostgresUserRepository(db, log)
	agencyRepo := repository.NewPostgresAgencyRepository(db, log)
	activityRepo := repository.NewPostgresActivityRepository(db, log)
	auditRepo := repository.NewPostgresAuditRepository(db, log)

	// 7. Initialize services
	clock := domain.SystemClock()
	recorder := audit.NewRecorder(activityRepo, auditRepo, clock, log)
	coordinator := service.NewCoordinator(unitRepo, log)
	tokenManager := auth.NewTokenManager(cfg.JWTSecret, "opslink", cfg.TokenTTL)
	incidentService := service.NewIncidentService(incidentRepo, unitRepo, recorder, coordinator, publisher, clock, log)
	unitService := service.NewUnitService(unitRepo, recorder, publisher, clock, log)
	authService := service.NewAuthService(userRepo, agencyRepo, tokenManager, recorder, clock, log, cfg.Environment)
	activityService := service.NewActivityService(recorder)

	// 8. Initialize handlers
	incidentHandler := handler.NewIncidentHandler(incidentService, log)
	unitHandler := handler.NewUnitHandler(unitService, log)
	authHandler := handler.NewAuthHandler(authService, log)
	activityHandler := handler.NewActivityHandler(activityService, log)
	healthHandler := handler.NewHealthHandler(db, redisClient, log)
	streamHandler := handler.NewStreamHandler(redisClient, cfg.CORSAllowedOrigins, log)

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, time.Minute)

	// 9. Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/auth/bootstrap", authHandler.Bootstrap)
	mux.HandleFunc("GET /api/auth/me", authHandler.Me)
	mux.HandleFunc("POST /api/auth/change-password", authHandler.ChangePassword)
	mux.HandleFunc("GET /api/agency/{id}", authHandler.GetAgency)
	mux.HandleFunc("POST /api/incidents", incidentHandler.Create)
	mux.HandleFunc("GET /api/incidents", incidentHandler.List)
	mux.HandleFunc("GET /api/incidents/{id}", incidentHandler.Get)
	mux.HandleFunc("POST /api/incidents/{id}/status", incidentHandler.SetStatus)
	mux.HandleFunc("POST /api/incidents/{id}/assign", incidentHandler.Assign)
	mux.HandleFunc("POST /api/incidents/{id}/notes", incidentHandler.AddNote)
	mux.HandleFunc("POST /api/units", unitHandler.Create)
	mux.HandleFunc("POST /api/units/{unitId}/status", unitHandler.SetStatus)
	mux.HandleFunc("GET /api/units", unitHandler.List)
	mux.HandleFunc("GET /api/activity", activityHandler.List)
	mux.Handle("GET /ws/events", streamHandler)
	mux.HandleFunc("GET /healthz", healthHandler.Health)
	mux.HandleFunc("GET /readyz", healthHandler.Readiness)
	mux.Handle("/metrics", promhttp.Handler())

	// CORS middleware honoring configured origins
	handlerWithCORS := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if originAllowed(cfg.CORSAllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else if len(cfg.CORSAllowedOrigins) > 0 {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowedOrigins[0])
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		mux.ServeHTTP(w, r)
	})

	// Chain middleware: request ID -> metrics -> content type -> JWT -> rate limit -> CORS -> mux.
	// JWT runs before the rate limiter so authenticated requests are
	// budgeted per agency instead of sharing the anonymous bucket.
	rootHandler := withRequestID(
		metrics.HTTPMetricsMiddleware(
			middleware.ValidateJSONContentType(log)(
				middleware.JWTMiddleware(tokenManager, log)(
					middleware.RateLimitMiddleware(rateLimiter, log)(handlerWithCORS),
				),
			),
		),
		log,
	)
	tracedHandler := otelhttp.NewHandler(rootHandler, "opslink.http")

	// 10. Start stale-unit watchdog in background
	if featureflags.Enabled("watchdog") {
		watchdog := worker.NewWatchdog(
			agencyRepo,
			unitRepo,
			recorder,
			clock,
			log,
			cfg.WatchdogInterval,
			cfg.UnitStaleAfter,
		)
		go watchdog.Start(ctx)
	} else {
		log.Info("stale-unit watchdog disabled: FLAG_WATCHDOG not set")
	}

	// 11. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      tracedHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("auth", "jwt"),
		slog.Int("rate_limit", cfg.RateLimitPerMinute),
		slog.String("rate_limit_window", "1m"),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel() // Stop watchdog
	rateLimiter.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}

type requestIDKey struct{}

// withRequestID attaches a request ID to the context and response headers for traceability
func withRequestID(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := generateRequestID()
		w.Header().Set("X-Request-ID", reqID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		log.Info("request completed",
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration_ms", time.Since(start)),
		)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func generateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
