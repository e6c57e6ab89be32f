package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/expression-portal-server/internal/config"
	"github.com/expression-portal-server/internal/logging"
	"github.com/expression-portal-server/internal/mcp"
	"github.com/expression-portal-server/internal/monitoring"
	"github.com/expression-portal-server/internal/service"
	"github.com/expression-portal-server/internal/synth"
	"github.com/expression-portal-server/pkg/external"
)

func main() {
	// stdout carries the protocol
	log.SetOutput(os.Stderr)

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
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
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

	server := mcp.NewServer(cfg.MCP, portal, metrics, logger)
	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("MCP server failed")
		os.Exit(1)
	}
	logger.Info("MCP server stopped")
}
