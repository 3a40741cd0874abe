package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/comparador/price-search/config"
	"github.com/comparador/price-search/internal/cache"
	"github.com/comparador/price-search/internal/database"
	"github.com/comparador/price-search/internal/handlers"
	"github.com/comparador/price-search/internal/middleware"
	"github.com/comparador/price-search/internal/scraper"
	"github.com/comparador/price-search/internal/search"
	"github.com/comparador/price-search/internal/store"
	"github.com/comparador/price-search/internal/sweepers"
	"github.com/comparador/price-search/internal/telemetry"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting price search service")

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	ctx := context.Background()

	cleanup := telemetry.MustInit(ctx, telemetry.GetConfigFromEnv())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	logger.Info().Msg("Database connected")

	if err := database.ApplySchema(ctx, database.Pool()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to apply database schema")
	}

	resultCache, err := cache.Connect(ctx, cfg.Cache.Addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer resultCache.Close()

	logger.Info().Str("addr", cfg.Cache.Addr).Msg("Cache connected")

	scraper.RegisterDefaults(scraper.DefaultRegistry)

	sources := store.NewSourceStore(database.Pool())
	if err := seedSources(ctx, sources, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to seed sources")
	}

	coordinator := search.NewCoordinator(
		store.NewPriceStore(database.Pool()),
		sources,
		store.NewJobRegistry(database.Pool()),
		resultCache,
		scraper.DefaultRegistry,
		searchConfig(cfg),
	)

	jobSweeper := sweepers.NewScrapeJobSweeper(
		database.Pool(),
		logger,
		cfg.Sweeper.Interval,
		cfg.Sweeper.RunningTimeout,
		cfg.Sweeper.PendingTimeout,
	)
	go jobSweeper.Start(ctx)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLoggingMiddleware(logger))
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	router.GET("/health", handlers.HealthCheck(resultCache))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
	}))
	{
		api.GET("/search", handlers.Search(coordinator))
		api.GET("/search/", handlers.Search(coordinator))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	jobSweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited")
}

// seedSources ensures every source with a built-in adapter has a row in the
// sources table. Idempotent; administratively added sources are untouched.
func seedSources(ctx context.Context, sources *store.SourceStore, logger *zerolog.Logger) error {
	for _, name := range scraper.DefaultRegistry.Names() {
		existing, err := sources.GetByName(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to look up source %q: %w", name, err)
		}
		if existing != nil {
			continue
		}
		src, err := sources.Create(ctx, name, scraper.BaseURL(name))
		if err != nil {
			return fmt.Errorf("failed to create source %q: %w", name, err)
		}
		logger.Info().Int64("source_id", src.SourceID).Str("name", name).Msg("Registered source")
	}
	return nil
}

func searchConfig(cfg *config.Config) search.Config {
	return search.Config{
		CacheTTL:             time.Duration(cfg.Cache.ExpirationSeconds) * time.Second,
		StalenessThreshold:   cfg.Search.StalenessThreshold,
		ReadLimit:            cfg.Search.ReadLimit,
		RetentionDays:        cfg.Search.RetentionDays,
		MaxConcurrentScrapes: int64(cfg.Search.MaxConcurrentScrapes),
		ScraperClient: scraper.ClientConfig{
			Timeout:           time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
			UserAgent:         userAgent(cfg),
			MaxRetries:        cfg.Scraper.MaxRetries,
			InitialBackoff:    time.Duration(cfg.Scraper.InitialBackoffMs) * time.Millisecond,
			MaxBackoff:        time.Duration(cfg.Scraper.MaxBackoffMs) * time.Millisecond,
			RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		},
	}
}

func userAgent(cfg *config.Config) string {
	if cfg.Scraper.UserAgent != "" {
		return cfg.Scraper.UserAgent
	}
	return scraper.DefaultClientConfig().UserAgent
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "price-search").Logger()
	log.Logger = logger
	return &logger
}
