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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"medikiosk/config"
	"medikiosk/internal/deviceapi"
	"medikiosk/internal/logger"
	"medikiosk/internal/metrics"
	"medikiosk/internal/motor"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	logger.Setup(cfg.Log, "dispenserd")

	ctrlCfg := cfg.Controller
	var actuator motor.Actuator
	switch ctrlCfg.Actuator {
	case "sysfs":
		actuator = &motor.SysfsPWMActuator{
			Chip:         ctrlCfg.PWMChip,
			Channels:     ctrlCfg.Channels,
			MoveDuration: ctrlCfg.MoveDuration,
		}
	case "simulated":
		actuator = &motor.SimulatedActuator{MoveDuration: ctrlCfg.MoveDuration}
	default:
		log.Fatal().Str("actuator", ctrlCfg.Actuator).Msg("unknown actuator; use simulated or sysfs")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	controller := motor.NewController(motor.Config{
		MotorCount:     len(ctrlCfg.Channels),
		DispenseAngle:  ctrlCfg.DispenseAngle,
		RestAngle:      ctrlCfg.RestAngle,
		SettleDuration: ctrlCfg.SettleDuration,
	}, actuator)
	controller.OnCycle(func(motorIndex int, d time.Duration, err error) {
		m.MotorCycle(motorIndex+1, d, err)
	})
	log.Info().Str("actuator", ctrlCfg.Actuator).Int("motors", controller.MotorCount()).Msg("motor controller ready")

	router := deviceapi.NewRouter(deviceapi.NewHandler(controller), metrics.Handler(registry))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", ctrlCfg.Port),
		Handler: router,
	}

	go func() {
		log.Info().Int("port", ctrlCfg.Port).Msg("dispenser API starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutdown signal received")

	// Let a running cycle finish so no servo is left at the dispense angle.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*ctrlCfg.MoveDuration+ctrlCfg.SettleDuration+time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}
	log.Info().Msg("dispenser stopped")
}
