package domain

import (
	"context"
)

// InsightProvider produces the AI narrative for a gene. Implementations never fail: any error is
// collapsed into PlaceholderInsight.
type InsightProvider interface {
	GetGeneInsight(ctx context.Context, req InsightRequest) AIAnalysisResult
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetInsightConfig() *InsightConfig
	GetSessionConfig() *SessionConfig
	Reload() error
	Validate() error
	IsProduction() bool
	IsDevelopment() bool
}
