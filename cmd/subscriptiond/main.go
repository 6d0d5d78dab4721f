// Package main is the entry point for the OPC UA subscription engine.
// It wires configuration, logging, metrics, the optional notification
// bridge, and the subscription manager together, then serves health and
// metrics endpoints until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-edge/opcua-subscription-engine/internal/bridge"
	"github.com/nexus-edge/opcua-subscription-engine/internal/config"
	"github.com/nexus-edge/opcua-subscription-engine/internal/health"
	"github.com/nexus-edge/opcua-subscription-engine/internal/manager"
	"github.com/nexus-edge/opcua-subscription-engine/internal/metrics"
	"github.com/nexus-edge/opcua-subscription-engine/internal/transport"
	"github.com/nexus-edge/opcua-subscription-engine/pkg/logging"
)

const serviceName = "opcua-subscription-engine"

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, serviceName)
	logger.Info().Str("environment", cfg.Service.Environment).Msg("starting subscription engine")

	manifest, err := config.LoadManifest(cfg.Subscription.ManifestPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load monitored item manifest")
	}
	logger.Info().Int("seed_items", len(manifest.Items)).Msg("monitored item manifest loaded")

	metricsRegistry := metrics.NewRegistry()
	stateListener := metrics.StateListener{Registry: metricsRegistry}

	var notifier manager.Notifier
	var bridgeStatus health.BridgeStatus
	if cfg.Bridge.Enabled {
		notificationBridge := bridge.New(bridge.Config{
			BrokerURL:           cfg.Bridge.BrokerURL,
			ClientID:            cfg.Bridge.ClientID,
			TopicPrefix:         cfg.Bridge.TopicPrefix,
			QoS:                 cfg.Bridge.QoS,
			CircuitMaxFailures:  cfg.Bridge.CircuitMaxFailures,
			CircuitResetSeconds: cfg.Bridge.CircuitResetSeconds,
		}, metricsRegistry, logger)
		notifier = notificationBridge
		bridgeStatus = notificationBridge
		defer notificationBridge.Close()
	}

	mgr := manager.New(manager.Config{
		Transport: transport.New(logger),
		Listener:  stateListener,
		Notifier:  notifier,
		Logger:    logger,
	})
	_ = mgr // the manager is exercised by the transport's session layer, out of scope here

	healthChecker := health.NewChecker(bridgeStatus, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthChecker.HealthHandler)
	mux.HandleFunc("/health/live", healthChecker.LiveHandler)
	mux.HandleFunc("/health/ready", healthChecker.ReadyHandler)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down HTTP server")
	}

	logger.Info().Msg("subscription engine shutdown complete")
}
