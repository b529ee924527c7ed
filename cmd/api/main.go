package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vocabsync/internal/cache"
	"vocabsync/internal/caldate"
	"vocabsync/internal/config"
	"vocabsync/internal/database"
	"vocabsync/internal/handlers"
	"vocabsync/internal/logging"
	appmetrics "vocabsync/internal/metrics"
	"vocabsync/internal/middleware/ratelimit"
	"vocabsync/internal/services"
	"vocabsync/internal/store"
)

func main() {
	log := logging.New(os.Getenv("APP_ENV") == "production")
	defer log.Sync()

	cfg := config.Load()

	cal, err := caldate.New(cfg.CanonicalTZ)
	if err != nil {
		log.Fatal("invalid canonical timezone", zap.String("tz", cfg.CanonicalTZ), zap.Error(err))
	}

	db, err := database.NewConnection(cfg.DBDriver, cfg.DSN)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	st := store.New(db, cfg.DBDriver)
	if err := st.Migrate(context.Background()); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	// Redis is optional: the summary cache degrades to pass-through.
	var summaryCache *cache.SummaryCache
	redisClient, err := database.NewRedisConnection(cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, summary cache disabled", zap.Error(err))
		summaryCache = cache.New(nil)
	} else {
		defer redisClient.Close()
		summaryCache = cache.New(redisClient)
	}

	statsService := services.NewStatsService(st, cal, log)
	rateLimiter := ratelimit.NewRateLimiter()

	registry := prometheus.NewRegistry()
	appmetrics.MustRegister(registry)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	services.NewFreezer(statsService, log, cfg.FreezeSweepInterval).Start(sweepCtx)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h := handlers.NewHandler(statsService, rateLimiter, summaryCache, log, db.Ping)
	h.Register(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()
	log.Info("sync API listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("canonical_tz", cfg.CanonicalTZ),
		zap.String("db_driver", cfg.DBDriver))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
