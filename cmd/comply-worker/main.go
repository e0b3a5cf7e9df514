package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/triage-ai/comply/internal/engine"
	"github.com/triage-ai/comply/internal/grading"
	"github.com/triage-ai/comply/internal/jobs"
	"github.com/triage-ai/comply/internal/ratelimit"
	"github.com/triage-ai/comply/internal/storage"
	"github.com/triage-ai/comply/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("COMPLY_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	workers := envOrDefaultInt("COMPLY_WORKERS", 8)
	pollIntervalS := envOrDefaultInt("COMPLY_POLL_INTERVAL_S", 2)
	policyCacheTTL := envOrDefaultInt("COMPLY_POLICY_CACHE_TTL_S", 60)
	llmRatePerSec := envOrDefaultFloat("COMPLY_LLM_RATE_PER_S", 5)
	llmBurst := envOrDefaultInt("COMPLY_LLM_BURST", 10)
	llmTimeoutS := envOrDefaultInt("COMPLY_LLM_TIMEOUT_S", 30)
	llmMaxRetries := envOrDefaultInt("COMPLY_LLM_MAX_RETRIES", 3)

	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}

	logger.Info("starting compliance worker",
		zap.Int("workers", workers),
		zap.Int("poll_interval_s", pollIntervalS),
	)

	// Postgres — sessions, policies, job queue
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}

	pgStore := store.NewPostgresStore(store.PostgresStoreConfig{DB: db, Logger: logger})
	policies := store.NewPostgresPolicyProvider(store.PostgresPolicyProviderConfig{
		DB:       db,
		CacheTTL: time.Duration(policyCacheTTL) * time.Second,
		Logger:   logger,
	})
	logger.Info("postgres store connected")

	// Storage — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// LLM graders — shared pool and global rate limit across all workers
	graders := grading.NewPool(grading.PoolConfig{
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		Timeout:          time.Duration(llmTimeoutS) * time.Second,
		MaxRetries:       llmMaxRetries,
	}, logger)
	limiter := ratelimit.NewBucket(int64(llmBurst), float64(llmRatePerSec))

	eng := engine.New(graders, limiter, logger)
	runner := jobs.NewRunner(jobs.Config{
		Engine:   eng,
		Sessions: pgStore,
		Policies: policies,
		Jobs:     pgStore,
		Events:   writer,
		Workers:  workers,
		Logger:   logger,
	})

	// Graceful shutdown: stop claiming, let the in-flight job wind down
	// through context cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	pollLoop(ctx, pgStore, runner, time.Duration(pollIntervalS)*time.Second, logger)
	logger.Info("compliance worker stopped")
}

// pollLoop claims and runs jobs until the context is canceled.
func pollLoop(ctx context.Context, claims store.JobStore, runner *jobs.Runner, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := claims.ClaimNextJob(ctx)
		switch {
		case err == nil:
			if runErr := runner.Run(ctx, job); runErr != nil && !errors.Is(runErr, context.Canceled) {
				logger.Error("job run failed",
					zap.String("job_id", job.ID),
					zap.Error(runErr),
				)
			}
			// Claim again immediately; the queue may have more work.
			continue
		case errors.Is(err, store.ErrNotFound):
			// Queue empty, wait for the next tick.
		default:
			logger.Error("job claim failed", zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return defaultVal
}
