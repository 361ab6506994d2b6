package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-ai-engine/internal/admission"
	"github.com/wolfman30/clinic-ai-engine/internal/ai"
	"github.com/wolfman30/clinic-ai-engine/internal/booking"
	"github.com/wolfman30/clinic-ai-engine/internal/booking/fonet"
	"github.com/wolfman30/clinic-ai-engine/internal/booking/native"
	"github.com/wolfman30/clinic-ai-engine/internal/booking/tiga"
	"github.com/wolfman30/clinic-ai-engine/internal/channel"
	appconfig "github.com/wolfman30/clinic-ai-engine/internal/config"
	"github.com/wolfman30/clinic-ai-engine/internal/guardrail"
	"github.com/wolfman30/clinic-ai-engine/internal/http/handlers"
	"github.com/wolfman30/clinic-ai-engine/internal/knowledge"
	"github.com/wolfman30/clinic-ai-engine/internal/leads"
	"github.com/wolfman30/clinic-ai-engine/internal/observability/metrics"
	"github.com/wolfman30/clinic-ai-engine/internal/orchestrator"
	"github.com/wolfman30/clinic-ai-engine/internal/security"
	"github.com/wolfman30/clinic-ai-engine/internal/tenancy"
	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-ai-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tenants, err := parseTenantMap(cfg.TenantMapJSON)
	if err != nil {
		logger.Error("invalid TENANT_MAP_JSON", "error", err)
		os.Exit(1)
	}
	resolver := tenancy.NewResolver(tenants)

	engineMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)

	// Security events fan out to logs, the in-memory admin ring, and (when a
	// database is configured) the audit table.
	ringSink := security.NewRingSink(256)
	sinks := security.MultiSink{security.NewLogSink(logger), ringSink}

	var repo leads.Repository = leads.NewMemoryRepository()
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		repo = leads.NewPGRepository(pool)
		sinks = append(sinks, security.NewPGSink(pool, logger))
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory lead store")
	}

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	retriever := knowledge.NewRedisRetriever(redisClient, logger)
	idemStore := booking.NewRedisIdempotencyStore(redisClient, cfg.BookingIdempotencyTTL)

	registry := buildRegistry(cfg, idemStore, logger)

	aiClient, err := buildAIClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build AI client", "error", err)
		os.Exit(1)
	}

	shield := admission.NewShield(
		admission.Config{
			Window:            cfg.AdmissionWindow,
			MaxRequests:       cfg.AdmissionMaxRequests,
			MaxPayloadBytes:   cfg.AdmissionMaxPayloadBytes,
			DenyRateThreshold: cfg.AdmissionDenyThreshold,
		},
		admission.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			OpenCooldown:     cfg.BreakerOpenCooldown,
		},
		sinks,
		logger,
		admission.WithMetrics(engineMetrics),
	)

	engine := orchestrator.NewEngine(
		orchestrator.Config{
			MaxIterations:  cfg.ReasoningMaxIterations,
			AITimeout:      cfg.AITimeout,
			ToolTimeout:    cfg.ToolTimeout,
			MaxReplyTokens: int32(cfg.MaxReplyTokens),
			Temperature:    float32(cfg.Temperature),
		},
		shield,
		repo,
		aiClient,
		retriever,
		registry,
		guardrail.DefaultPolicy(),
		resolver,
		logger,
		orchestrator.WithMetrics(engineMetrics),
		orchestrator.WithSecuritySink(sinks),
	)

	router := handlers.NewRouter(handlers.RouterConfig{
		Messages:       handlers.NewMessagesHandler(engine, channel.NewNormalizer(resolver), logger),
		AdminSecurity:  handlers.NewAdminSecurityHandler(ringSink, shield.Breakers(), registry, logger),
		AdminJWTSecret: cfg.AdminJWTSecret,
		Logger:         logger,
	})

	// Bound admission-record memory over long uptimes.
	go func() {
		ticker := time.NewTicker(5 * cfg.AdmissionWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				shield.Sweep()
			}
		}
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// buildRegistry registers every configured scheduling backend. The native
// in-process scheduler is always present so development environments work
// with zero external dependencies.
func buildRegistry(cfg *appconfig.Config, idemStore booking.IdempotencyStore, logger *logging.Logger) *booking.Registry {
	registry := booking.NewRegistry()
	registry.Register(booking.WithIdempotency(native.NewScheduler(), idemStore, logger))

	if cfg.FonetBaseURL != "" {
		client, err := fonet.New(fonet.Config{
			BaseURL:  cfg.FonetBaseURL,
			APIKey:   cfg.FonetAPIKey,
			ClinicID: cfg.FonetClinicID,
			Timeout:  cfg.FonetTimeout,
		})
		if err != nil {
			logger.Error("fonet backend misconfigured", "error", err)
			os.Exit(1)
		}
		registry.Register(booking.WithIdempotency(client, idemStore, logger))
	}

	if cfg.TigaBaseURL != "" {
		client, err := tiga.New(tiga.Config{
			BaseURL:   cfg.TigaBaseURL,
			Username:  cfg.TigaUsername,
			Password:  cfg.TigaPassword,
			BranchKey: cfg.TigaBranchKey,
			Timeout:   cfg.TigaTimeout,
		})
		if err != nil {
			logger.Error("tiga backend misconfigured", "error", err)
			os.Exit(1)
		}
		registry.Register(booking.WithIdempotency(client, idemStore, logger))
	}
	return registry
}

// buildAIClient wires Bedrock as the primary model provider with an optional
// Gemini text-only fallback.
func buildAIClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (ai.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}
	primary := ai.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)

	var secondary ai.Client
	if cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, err
		}
		secondary = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set, running without a fallback model")
	}
	return ai.NewFallbackClient(primary, secondary, logger), nil
}
