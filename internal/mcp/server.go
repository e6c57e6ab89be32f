// Package mcp exposes the portal's generators, aggregation and insight client as Model Context
// Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/monitoring"
	"github.com/expression-portal-server/internal/service"
)

// Server is the MCP tool server. All tools share one portal session, so gene selection and insight
// state carry over between calls the way they do for a single browser tab.
type Server struct {
	config    domain.MCPConfig
	mcpServer *mcp.Server
	portal    *service.PortalService
	metrics   *monitoring.Metrics
	logger    *logrus.Logger

	mu        sync.Mutex
	sessionID string
}

// NewServer creates a new MCP server instance with all tools registered.
func NewServer(config domain.MCPConfig, portal *service.PortalService, metrics *monitoring.Metrics, logger *logrus.Logger) *Server {
	serverInfo := &mcp.Implementation{
		Name:    config.ServerName,
		Version: config.ServerVersion,
	}

	s := &Server{
		config:    config,
		mcpServer: mcp.NewServer(serverInfo, nil),
		portal:    portal,
		metrics:   metrics,
		logger:    logger,
	}
	s.registerTools()
	return s
}

// Start serves the tools over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"server":  s.config.ServerName,
		"version": s.config.ServerVersion,
	}).Info("Starting MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// session returns the shared portal session, replacing it when it has expired.
func (s *Server) session() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID != "" {
		if _, err := s.portal.Session(s.sessionID); err == nil {
			return s.sessionID
		}
	}
	s.sessionID = s.portal.NewSession().SessionID
	s.logger.WithField("session_id", s.sessionID).Debug("Opened MCP portal session")
	return s.sessionID
}

// registerTools registers every portal tool with the MCP SDK.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolGetPatient,
		Description: "Return the demo patient: identifiers, cancer type, demographics and tumour samples.",
	}, s.handleGetPatient)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolGenerateGeneProfile,
		Description: "Generate the synthetic alteration profile (z-score, mutation, copy number, structural variant) of every panel gene for a sample id. Ids ending in -02 follow the recurrent-tumour scenario.",
	}, s.handleGenerateGeneProfile)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolSynthesizeCohort,
		Description: "Synthesize the background cohort of a gene (pancancer: 200 samples, cancer_type: 60) with the patient's samples appended, plus each patient sample's cohort percentile.",
	}, s.handleSynthesizeCohort)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolNormalTissueExpression,
		Description: "Synthesize GTEx-style normal-tissue expression (median TPM) of a gene across 22 tissues, highest first, with the tumour-site tissue highlighted.",
	}, s.handleNormalTissueExpression)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolGeneInsight,
		Description: "Select a gene and request the AI narrative summary of its alteration profile. Falls back to a fixed placeholder when the model is unavailable.",
	}, s.handleGeneInsight)

	s.logger.WithField("tool_count", len(ToolNames())).Info("Registered MCP tools")
}

// createErrorResult creates a standardized error result for tool calls
func createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}

// errorMessage names the input problem behind err for the tool caller.
func errorMessage(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return "Missing required parameter"
	case errors.Is(err, domain.ErrUnknownGene):
		return "Unknown gene"
	case errors.Is(err, domain.ErrInvalidScope):
		return "Invalid cohort scope"
	default:
		return "Tool failed"
	}
}
