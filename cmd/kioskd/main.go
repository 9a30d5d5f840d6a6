package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"medikiosk/config"
	"medikiosk/internal/api"
	"medikiosk/internal/db"
	"medikiosk/internal/device"
	"medikiosk/internal/dispense"
	"medikiosk/internal/logger"
	"medikiosk/internal/metrics"
	"medikiosk/internal/monitor"
	"medikiosk/internal/notification"
	"medikiosk/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	logger.Setup(cfg.Log, "kioskd")
	log.Info().Str("path", configPath).Msg("configuration loaded")

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger := store.NewGormStore(gormDB)
	if err := ledger.Seed(ctx, store.DefaultSlots(cfg.Inventory.InitialStock, time.Now())); err != nil {
		log.Fatal().Err(err).Msg("failed to provision slots")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	deviceClient := device.NewClient(cfg.Device, m)
	log.Info().Str("endpoint", deviceClient.Endpoint()).Bool("simulate_on_failure", cfg.Device.SimulateOnTransportFailure).
		Msg("device client configured")

	opts := dispense.Options{
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
		Metrics:           m,
	}

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, ledger, webpushOptions)
		pool.Start(ctx)
		opts.Notifier = pool
	} else {
		log.Warn().Msg("VAPID keys are not configured; low-stock alerts are disabled")
	}

	dispenser := dispense.NewService(ledger, deviceClient, opts)
	if err := dispenser.PublishStock(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to publish initial stock")
	}

	go monitor.NewService(deviceClient, ledger, m, cfg.Device.ProbeInterval).Run(ctx)

	handler := api.NewHandler(api.Deps{
		Store:     ledger,
		Dispenser: dispenser,
		Device:    deviceClient,
		Metrics:   m,
		Webpush:   webpushOptions,
		Location:  cfg.Server.Location(),
	})
	router := api.NewRouter(handler, cfg.Server, metrics.Handler(registry))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutdown signal received, stopping services")

	// In-flight dispenses may wait for the device timeout plus the simulated delay.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Device.Timeout+cfg.Device.SimulatedDelay+time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}
	cancel()

	log.Info().Msg("server gracefully stopped")
}
