// Command arre-server runs the alert routing and response engine.
//
// # Usage
//
//	arre-server --database postgres://localhost/arre --port 8080
//
// # Configuration
//
// The server is configured via command-line flags and environment
// variables (ARRE_*).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arre-io/arre/db/migrate"
	"github.com/arre-io/arre/internal/aiselect"
	"github.com/arre-io/arre/internal/api"
	"github.com/arre-io/arre/internal/cache"
	"github.com/arre-io/arre/internal/config"
	"github.com/arre-io/arre/internal/dedup"
	"github.com/arre-io/arre/internal/dispatcher"
	"github.com/arre-io/arre/internal/flags"
	"github.com/arre-io/arre/internal/ingest"
	"github.com/arre-io/arre/internal/jobs"
	"github.com/arre-io/arre/internal/launcher"
	"github.com/arre-io/arre/internal/llm"
	"github.com/arre-io/arre/internal/matcher"
	"github.com/arre-io/arre/internal/metrics"
	"github.com/arre-io/arre/internal/secrets"
	"github.com/arre-io/arre/internal/service"
	"github.com/arre-io/arre/internal/store"
	"github.com/arre-io/arre/internal/taskstore"
	"github.com/arre-io/arre/internal/vectorsearch"
)

func main() {
	var (
		port        = flag.Int("port", 8080, "HTTP server port")
		metricsPort = flag.Int("metrics-port", 9090, "Prometheus metrics server port")
		dbURL       = flag.String("database", "", "Database URL (postgres://...)")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		version     = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("arre-server v0.1.0")
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if *dbURL == "" {
		*dbURL = os.Getenv("ARRE_DATABASE_URL")
	}
	if *dbURL == "" {
		*dbURL = "postgres://localhost:5432/arre?sslmode=disable"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := store.NewStoreFromURL(ctx, *dbURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), config.DatabasePingTimeout)
	defer pingCancel()
	if err := db.Ping(pingCtx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	migCtx, migCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer migCancel()
	if err := migrate.Run(migCtx, db.Pool(), logger); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	// Credentials: LLM API key and task store bearer token, backed by
	// 1Password when configured, falling back to local storage for
	// development.
	credStore, err := secrets.NewCredentialStore(secrets.ConfigFromEnv(), logger)
	if err != nil {
		logger.Error("failed to initialize credential store", "error", err)
		os.Exit(1)
	}
	defer credStore.Close()

	llmAPIKey, err := credStore.GetOrCreate(ctx, secrets.CredentialLLMAPIKey)
	if err != nil {
		logger.Error("failed to load LLM API key", "error", err)
		os.Exit(1)
	}
	taskStoreToken, err := credStore.GetOrCreate(ctx, secrets.CredentialTaskStoreBearerToken)
	if err != nil {
		logger.Error("failed to load task store bearer token", "error", err)
		os.Exit(1)
	}

	// Task store client: the external system of record for tasks,
	// trigger rules, and job execution.
	taskStoreURL := os.Getenv("ARRE_TASKSTORE_URL")
	if taskStoreURL == "" {
		taskStoreURL = "http://localhost:9000/api/v1"
	}
	tsClient := taskstore.NewClient(taskstore.Config{
		BaseURL:   taskStoreURL,
		AuthToken: taskStoreToken.Value,
		Timeout:   config.DefaultHTTPTimeout,
	}, logger)

	// Deterministic trigger matcher.
	tm := matcher.New(tsClient, matcher.Config{
		RefreshInterval: config.MatcherRefreshInterval,
		StalenessWindow: config.MatcherStalenessWindow,
	}, logger)
	if err := tm.Start(ctx); err != nil {
		logger.Error("failed to start matcher", "error", err)
		os.Exit(1)
	}
	defer tm.Stop()
	logger.Info("matcher started")

	// Dedup window, backed by Redis.
	redisURL := os.Getenv("ARRE_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	dedupWindow, err := dedup.NewFromURL(redisURL, logger)
	if err != nil {
		logger.Error("failed to connect dedup window to redis", "error", err)
		os.Exit(1)
	}

	// Response cache, backed by the same Redis instance as the dedup
	// window. Used to avoid re-aggregating alert stats on every call.
	respCache, err := cache.New(redisURL, logger)
	if err != nil {
		logger.Error("failed to connect response cache to redis", "error", err)
		os.Exit(1)
	}

	// Administrative flag store, gated by an embedded OPA policy.
	policy, err := flags.NewPolicy(ctx)
	if err != nil {
		logger.Error("failed to compile flag policy", "error", err)
		os.Exit(1)
	}
	flagStore, err := flags.New(ctx, db, policy, logger)
	if err != nil {
		logger.Error("failed to initialize flag store", "error", err)
		os.Exit(1)
	}

	// LLM client for AI-selected arbitration and autonomous planning.
	llmClient := llm.New(llm.Config{
		APIKey: llmAPIKey.Value,
		Model:  os.Getenv("ARRE_LLM_MODEL"),
	}, logger)

	// Vector search over the tooltask index, for AI-selected mode.
	embedder := vectorsearch.NewVoyageEmbedder(vectorsearch.VoyageEmbedderConfig{
		APIKey: os.Getenv("ARRE_VOYAGE_API_KEY"),
	}, logger)
	milvusAddr := os.Getenv("ARRE_MILVUS_ADDR")
	if milvusAddr == "" {
		milvusAddr = "localhost:19530"
	}
	vsClient, err := vectorsearch.New(ctx, vectorsearch.Config{
		Address:        milvusAddr,
		CollectionName: "tooltasks",
	}, embedder, logger)
	if err != nil {
		logger.Error("failed to connect vector search", "error", err)
		os.Exit(1)
	}

	aiSelector := aiselect.New(vsClient, llmClient, tsClient, logger)

	// Job submission, wrapped in bounded retry and a circuit breaker.
	jobAdapter := jobs.New(tsClient, logger)

	// Autonomous-mode launcher.
	autoLauncher := launcher.New(tsClient, jobAdapter, llmClient, logger)

	// Webhook payload normalizer.
	normalizer := ingest.New()

	dsp := dispatcher.New(normalizer, tm, dedupWindow, flagStore, aiSelector, autoLauncher, jobAdapter, db, logger)

	// Prometheus metrics.
	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, fmt.Sprintf(":%d", *metricsPort)); err != nil {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics server started", "port", *metricsPort)

	svc := service.NewService(db, flagStore, dsp, m, respCache, logger)

	apiServer := api.NewServer(svc, logger)

	authMode := api.AuthModeBearerToken
	if os.Getenv("ARRE_AUTH_MODE") == "trusted_principal_header" {
		authMode = api.AuthModeTrustedPrincipalHeader
	} else if os.Getenv("ARRE_AUTH_MODE") == "none" {
		authMode = api.AuthModeNone
	}

	authMiddleware := apiServer.AuthMiddleware(api.AuthConfig{
		Mode:                   authMode,
		BearerToken:            taskStoreToken.Value,
		TrustedPrincipalHeader: os.Getenv("ARRE_TRUSTED_PRINCIPAL_HEADER"),
		FlagsReader:            flagStore,
		Logger:                 logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      authMiddleware(apiServer),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", *port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
