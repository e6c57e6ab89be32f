package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/expression-portal-server/internal/api"
	"github.com/expression-portal-server/internal/config"
	"github.com/expression-portal-server/internal/logging"
	"github.com/expression-portal-server/internal/monitoring"
	"github.com/expression-portal-server/internal/service"
	"github.com/expression-portal-server/internal/synth"
	"github.com/expression-portal-server/pkg/external"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	insight := external.NewConfiguredInsightClient(ctx, cfg.Insight, metrics, logger)
	portal := service.NewPortalService(service.NewPortalConfig(cfg), nil, synth.NewSource(cfg.Synth.Seed), insight, metrics, logger)

	server, err := api.NewServer(configManager, portal, metrics, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
		"insight":     configManager.HasInsightKey(),
	}).Info("Starting expression portal")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
