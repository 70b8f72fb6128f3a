package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dpktjf/dpk-ek-scraper/internal/api"
	"github.com/dpktjf/dpk-ek-scraper/internal/config"
	"github.com/dpktjf/dpk-ek-scraper/internal/ha"
	"github.com/dpktjf/dpk-ek-scraper/internal/integration"
	"github.com/dpktjf/dpk-ek-scraper/internal/metrics"
	"github.com/dpktjf/dpk-ek-scraper/internal/scraper"
	"github.com/dpktjf/dpk-ek-scraper/internal/store"

	"go.uber.org/zap"
)

func main() {
	// Bootstrap logger until LOG_LEVEL is known
	bootstrap, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	config.LoadEnv(bootstrap)
	settings, err := config.FromEnv()
	if err != nil {
		bootstrap.Fatal("Invalid configuration", zap.Error(err))
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(settings.LogLevel)
	logger, err := zapCfg.Build()
	if err != nil {
		bootstrap.Fatal("Failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("Starting EK scraper bridge",
		zap.String("scraper_url", settings.ScraperURL),
		zap.String("callback_base_url", settings.CallbackBaseURL),
		zap.Bool("home_assistant", settings.HAEnabled()),
		zap.Bool("read_only", settings.ReadOnly))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	client, err := scraper.NewClient(settings.ScraperURL,
		scraper.WithTimeout(settings.ScraperTimeout),
		scraper.WithToken(settings.ScraperToken),
		scraper.WithLogger(logger),
		scraper.WithObserver(m))
	if err != nil {
		logger.Fatal("Failed to create scraper client", zap.Error(err))
	}

	history := openHistory(ctx, settings, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := history.Close(closeCtx); err != nil {
			logger.Warn("Failed to close result history", zap.Error(err))
		}
	}()

	cache, err := store.NewHandoffCache(store.DefaultHandoffSize)
	if err != nil {
		logger.Fatal("Failed to create hand-off cache", zap.Error(err))
	}

	opts := []integration.Option{
		integration.WithHistory(history),
		integration.WithHandoffCache(cache),
		integration.WithMetrics(m),
		integration.WithIntervalBounds(settings.MinInterval, settings.MaxInterval),
		integration.WithLogger(logger),
		integration.WithReadOnly(settings.ReadOnly),
	}

	// Without Home Assistant the publisher only logs
	publisher := ha.NewStatePublisher(settings.HARESTURL, settings.HAToken, logger, settings.ReadOnly || !settings.HAEnabled())

	if settings.HAEnabled() {
		haClient := ha.NewClient(settings.HAURL, settings.HAToken, logger)
		if err := haClient.Connect(); err != nil {
			logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
		}
		defer haClient.Disconnect()
		logger.Info("Connected to Home Assistant")
		opts = append(opts, integration.WithHAClient(haClient))
	} else {
		logger.Info("Home Assistant not configured, sensor states are only served by the API")
	}

	manager, err := integration.NewManager(client, publisher, settings.WebhookURL, opts...)
	if err != nil {
		logger.Fatal("Failed to create entry manager", zap.Error(err))
	}

	// The API must be listening before the first trigger hands out callback URLs
	server := api.NewServer(manager, m, logger, settings.APIPort, api.WithScraperTimeout(settings.ScraperTimeout))
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	entries, err := config.NewLoader(settings.EntriesFile, logger).Load()
	if err != nil {
		logger.Fatal("Failed to load entries", zap.Error(err))
	}
	setup := make([]integration.Entry, 0, len(entries))
	for _, e := range entries {
		setup = append(setup, integration.FromConfig(e))
	}
	if err := manager.LoadAll(ctx, setup); err != nil {
		logger.Warn("Some entries failed to set up", zap.Error(err))
	}

	logger.Info("Bridge running. Press Ctrl+C to exit.",
		zap.Int("entries", manager.Registry().Len()),
		zap.Int("api_port", settings.APIPort))

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Warn("Failed to unload every entry", zap.Error(err))
	}
}

// openHistory connects every configured result store. A store that cannot
// be reached is logged and skipped.
func openHistory(ctx context.Context, s *config.Settings, logger *zap.Logger) store.History {
	var histories []store.History

	if s.MongoURI != "" {
		client, err := store.NewMongoClient(ctx, s.MongoURI)
		if err != nil {
			logger.Error("Failed to connect to MongoDB", zap.Error(err))
		} else if h, err := store.NewMongoHistory(ctx, client, s.MongoDB); err != nil {
			logger.Error("Failed to prepare MongoDB history", zap.Error(err))
			_ = client.Disconnect(ctx)
		} else {
			logger.Info("Recording results in MongoDB", zap.String("database", s.MongoDB))
			histories = append(histories, h)
		}
	}

	if s.PostgresDSN != "" {
		db, err := store.OpenPostgres(s.PostgresDSN)
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL", zap.Error(err))
		} else if h, err := store.NewSQLHistory(ctx, db); err != nil {
			logger.Error("Failed to prepare PostgreSQL history", zap.Error(err))
		} else {
			logger.Info("Recording results in PostgreSQL")
			histories = append(histories, h)
		}
	}

	return store.Multi(histories...)
}
