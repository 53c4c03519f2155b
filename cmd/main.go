package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	zlog "github.com/rs/zerolog/log"

	"github.com/fjod/pharmacy-cart/internal/config"
	h "github.com/fjod/pharmacy-cart/internal/http"
	"github.com/fjod/pharmacy-cart/internal/metrics"
	"github.com/fjod/pharmacy-cart/internal/poller"
	"github.com/fjod/pharmacy-cart/internal/service"
	"github.com/fjod/pharmacy-cart/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		zlog.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}

	logg := logger.New(logger.Options{
		ServiceName: cfg.ServiceName,
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, closeStore, err := openStore(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to open cart storage", err)
		os.Exit(1)
	}
	defer closeStore()
	logg.Info(logg.WithField(ctx, "driver", cfg.StorageDriver), "cart storage ready")

	registry := service.NewRegistry(store, service.RegistryOptions{
		BaseKey:         cfg.StorageKey,
		FlushOnShutdown: cfg.FlushOnShutdown,
		MountTimeout:    cfg.RequestTimeout,
		IdleTimeout:     cfg.SessionIdle,
		Session: service.SessionOptions{
			Debounce:    cfg.Debounce,
			SaveTimeout: cfg.RequestTimeout,
			Logger:      logg,
			Metrics:     m,
		},
	})

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	var checkoutPoller *poller.Poller
	if cfg.KafkaEnabled() {
		checkoutPoller = poller.NewPoller(registry, logg, poller.Options{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		})
		go checkoutPoller.Run(pollCtx)
		logg.Info(logg.WithField(ctx, "topic", cfg.KafkaTopic), "checkout poller started")
	}

	router := h.NewRouter(h.NewCartHandler(registry, cfg.RequestTimeout), h.RouterOptions{
		ServiceName:    cfg.ServiceName,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logg,
		Gatherer:       reg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logg.Info(logg.WithField(ctx, "port", cfg.HTTPPort), "cart service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "server error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info(ctx, "shutting down cart service")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "server forced to shutdown", err)
	}
	stopPolling()
	if checkoutPoller != nil {
		checkoutPoller.Close()
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logg.Error(ctx, "failed to flush carts", err)
	}
	logg.Info(ctx, "cart service stopped")
}
