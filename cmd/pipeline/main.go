package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/clifton/twag/internal/cache"
	"github.com/clifton/twag/internal/db"
	"github.com/clifton/twag/internal/fetcher"
	"github.com/clifton/twag/internal/linkutil"
	"github.com/clifton/twag/internal/pipeline"
	"github.com/clifton/twag/internal/progress"
	"github.com/clifton/twag/internal/scorer"
	"github.com/clifton/twag/pkg/config"
	"github.com/clifton/twag/pkg/logging"
	"github.com/clifton/twag/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Twag Pipeline")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Open the tweet store
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer database.Close()

	// Redis-backed resolved-URL cache; optional, the expander degrades to
	// its in-process memo without it.
	var resolved linkutil.ResolvedCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.New(&cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without resolved-URL cache", zap.Error(err))
		} else {
			defer redisCache.Close()
			resolved = redisCache
		}
	}
	expander := linkutil.NewExpander(resolved)

	// Fetch client with a shared rate limiter across every call site
	limiter := fetcher.NewRateLimiter(cfg.Fetcher.MinInterval)
	fetch := fetcher.NewClient(&cfg.Fetcher, limiter)

	// Language-model scorer
	provider, err := scorer.NewAnthropicProvider()
	if err != nil {
		logger.Fatal("Failed to initialize LLM provider", zap.Error(err))
	}
	score := scorer.New(provider, &cfg.LLM)

	p := pipeline.New(db.NewRepository(database.DB), fetch, score, expander, cfg)

	// Cancel the run cleanly on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Interrupt received, finishing current step...")
		cancel()
	}()

	stats, err := p.RunFullCycle(ctx)
	if err != nil {
		logger.Fatal("Cycle failed", zap.Error(err))
	}

	reprocessed, err := p.ReprocessQuoted(ctx, 50, progress.NewLog())
	if err != nil {
		logger.Fatal("Reprocess pass failed", zap.Error(err))
	}

	promoted, err := p.AutoPromoteBookmarkedAuthors(ctx, 3)
	if err != nil {
		logger.Fatal("Bookmark promotion failed", zap.Error(err))
	}

	logger.Info("Cycle complete",
		zap.Int("home_fetched", stats.HomeFetched),
		zap.Int("home_new", stats.HomeNew),
		zap.Int("tier1_fetched", stats.Tier1Fetched),
		zap.Int("tier1_new", stats.Tier1New),
		zap.Int("processed", stats.Processed),
		zap.Int("enriched", stats.Enriched),
		zap.Int("reprocessed", len(reprocessed)),
		zap.Int("promoted", len(promoted)))
}
