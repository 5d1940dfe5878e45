package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/serenospa/feedback-service/libs/config"
	"github.com/serenospa/feedback-service/libs/db"
	"github.com/serenospa/feedback-service/libs/httpx"
	"github.com/serenospa/feedback-service/libs/kafkax"
	otelx "github.com/serenospa/feedback-service/libs/otel"
	"github.com/serenospa/feedback-service/libs/runtime"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/audit"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/feedback"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/handlers"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/outbox"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/ratelimit"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/storage"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/token"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func feedbackConfigFromEnv() feedback.Config {
	cfg := feedback.DefaultConfig()
	cfg.EligibilityWindow = config.Duration("FEEDBACK_ELIGIBILITY_WINDOW", cfg.EligibilityWindow)
	cfg.MinBookingAge = config.Duration("FEEDBACK_MIN_BOOKING_AGE", cfg.MinBookingAge)
	cfg.VerifyIPLimit = config.Int("VERIFY_IP_LIMIT", cfg.VerifyIPLimit)
	cfg.VerifyIPWindow = config.Duration("VERIFY_IP_WINDOW", cfg.VerifyIPWindow)
	cfg.SubmitIPLimit = config.Int("SUBMIT_IP_LIMIT", cfg.SubmitIPLimit)
	cfg.SubmitIPWindow = config.Duration("SUBMIT_IP_WINDOW", cfg.SubmitIPWindow)
	cfg.SubmitEmailLimit = config.Int("SUBMIT_EMAIL_LIMIT", cfg.SubmitEmailLimit)
	cfg.SubmitEmailWindow = config.Duration("SUBMIT_EMAIL_WINDOW", cfg.SubmitEmailWindow)
	cfg.BurstLimit = config.Int("SUBMIT_BURST_LIMIT", cfg.BurstLimit)
	cfg.BurstWindow = config.Duration("SUBMIT_BURST_WINDOW", cfg.BurstWindow)
	return cfg
}

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "feedback-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	tokenSecret, err := config.RequiredString("FEEDBACK_TOKEN_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}

	// Counters live in Redis when an address is configured so throttles hold
	// across instances; otherwise a swept in-process map serves a single node.
	var counters ratelimit.CounterStore
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		counters = ratelimit.NewRedisStore(rdb, "feedback")
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	} else {
		memStore := ratelimit.NewMemoryStore()
		go memStore.Run(ctx, config.Duration("RATE_LIMIT_SWEEP_EVERY", time.Minute))
		counters = memStore
	}

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}

	outboxRepo := outbox.NewRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool)
	feedbackRepo := storage.NewFeedbackRepository(pool, outboxRepo)
	recorder := audit.NewRecorder(audit.NewRepository(pool), logger)

	svc := feedback.NewService(
		bookingRepo,
		feedbackRepo,
		recorder,
		token.NewIssuer(tokenSecret),
		ratelimit.NewLimiter(counters, logger),
		logger,
		feedbackConfigFromEnv(),
	)
	feedbackHandler := handlers.NewFeedbackHandler(svc, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/feedback/verify", feedbackHandler.Verify)
	mux.HandleFunc("/feedback/submit", feedbackHandler.Submit)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(32<<10),
		httpx.WithTimeout(10*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "feedback")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
