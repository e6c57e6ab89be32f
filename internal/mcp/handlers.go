package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/service"
)

// Tool names.
const (
	ToolGetPatient             = "get_patient"
	ToolGenerateGeneProfile    = "generate_gene_profile"
	ToolSynthesizeCohort       = "synthesize_cohort"
	ToolNormalTissueExpression = "normal_tissue_expression"
	ToolGeneInsight            = "gene_insight"
)

// ToolNames lists the registered tools in registration order.
func ToolNames() []string {
	return []string{
		ToolGetPatient,
		ToolGenerateGeneProfile,
		ToolSynthesizeCohort,
		ToolNormalTissueExpression,
		ToolGeneInsight,
	}
}

// GetPatientParams defines parameters for get_patient tool
type GetPatientParams struct{}

// GenerateGeneProfileParams defines parameters for generate_gene_profile tool
type GenerateGeneProfileParams struct {
	SampleID string `json:"sample_id" jsonschema:"sample id, e.g. TCGA-02-0001-01"`
	Gene     string `json:"gene,omitempty" jsonschema:"optional gene symbol to return a single profile"`
}

// GenerateGeneProfileResult defines the result structure for generate_gene_profile tool
type GenerateGeneProfileResult struct {
	SampleID  string               `json:"sample_id"`
	Recurrent bool                 `json:"recurrent"`
	Profiles  []domain.GeneProfile `json:"profiles"`
}

// SynthesizeCohortParams defines parameters for synthesize_cohort tool
type SynthesizeCohortParams struct {
	Gene  string `json:"gene" jsonschema:"gene symbol from the panel"`
	Scope string `json:"scope,omitempty" jsonschema:"pancancer (default) or cancer_type"`
}

// SynthesizeCohortResult defines the result structure for synthesize_cohort tool
type SynthesizeCohortResult struct {
	Gene     string                  `json:"gene"`
	Scope    domain.CohortScope      `json:"scope"`
	Size     int                     `json:"size"`
	Patients []service.PatientMarker `json:"patients"`
	Samples  []domain.CohortSample   `json:"samples"`
}

// NormalTissueParams defines parameters for normal_tissue_expression tool
type NormalTissueParams struct {
	Gene string `json:"gene" jsonschema:"gene symbol from the panel"`
}

// GeneInsightParams defines parameters for gene_insight tool
type GeneInsightParams struct {
	Gene string `json:"gene" jsonschema:"gene symbol from the panel"`
}

// GeneInsightResult defines the result structure for gene_insight tool
type GeneInsightResult struct {
	Gene    string                   `json:"gene"`
	Status  service.InsightStatus    `json:"status"`
	Insight *domain.AIAnalysisResult `json:"insight,omitempty"`
	Error   string                   `json:"error,omitempty"`
	Notice  string                   `json:"notice"`
}

func (s *Server) handleGetPatient(ctx context.Context, req *mcp.CallToolRequest, params GetPatientParams) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	view, err := s.portal.View(s.session())
	if err != nil {
		return s.fail(ToolGetPatient, start, err), nil, nil
	}
	return s.success(ToolGetPatient, start, view.Patient)
}

func (s *Server) handleGenerateGeneProfile(ctx context.Context, req *mcp.CallToolRequest, params GenerateGeneProfileParams) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	if params.SampleID == "" {
		return s.fail(ToolGenerateGeneProfile, start, domain.NewValidationError("sample_id", "sample_id is required", "")), nil, nil
	}

	profiles := s.portal.GenerateProfile(params.SampleID)
	if params.Gene != "" {
		symbol, err := s.portal.Panel().CanonicalGene(params.Gene)
		if err != nil {
			return s.fail(ToolGenerateGeneProfile, start, err), nil, nil
		}
		for _, p := range profiles {
			if p.Symbol == symbol {
				profiles = []domain.GeneProfile{p}
				break
			}
		}
	}

	return s.success(ToolGenerateGeneProfile, start, GenerateGeneProfileResult{
		SampleID:  params.SampleID,
		Recurrent: s.portal.Panel().IsRecurrent(params.SampleID),
		Profiles:  profiles,
	})
}

func (s *Server) handleSynthesizeCohort(ctx context.Context, req *mcp.CallToolRequest, params SynthesizeCohortParams) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	symbol, err := s.portal.Panel().CanonicalGene(params.Gene)
	if err != nil {
		return s.fail(ToolSynthesizeCohort, start, err), nil, nil
	}
	scope, err := domain.ParseCohortScope(params.Scope)
	if err != nil {
		return s.fail(ToolSynthesizeCohort, start, err), nil, nil
	}
	cohort, err := s.portal.Cohort(s.session(), symbol, scope)
	if err != nil {
		return s.fail(ToolSynthesizeCohort, start, err), nil, nil
	}

	return s.success(ToolSynthesizeCohort, start, SynthesizeCohortResult{
		Gene:     symbol,
		Scope:    scope,
		Size:     len(cohort),
		Patients: service.BuildExpressionChart(symbol, cohort).Patients,
		Samples:  cohort,
	})
}

func (s *Server) handleNormalTissueExpression(ctx context.Context, req *mcp.CallToolRequest, params NormalTissueParams) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	symbol, err := s.portal.Panel().CanonicalGene(params.Gene)
	if err != nil {
		return s.fail(ToolNormalTissueExpression, start, err), nil, nil
	}
	tissues, err := s.portal.Tissues(symbol)
	if err != nil {
		return s.fail(ToolNormalTissueExpression, start, err), nil, nil
	}
	view, err := s.portal.View(s.session())
	if err != nil {
		return s.fail(ToolNormalTissueExpression, start, err), nil, nil
	}
	return s.success(ToolNormalTissueExpression, start, service.BuildTissueChart(symbol, tissues, view.Patient.CancerType))
}

func (s *Server) handleGeneInsight(ctx context.Context, req *mcp.CallToolRequest, params GeneInsightParams) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	id := s.session()
	view, err := s.portal.SelectGene(id, params.Gene)
	if err != nil {
		return s.fail(ToolGeneInsight, start, err), nil, nil
	}
	card, err := s.portal.GenerateInsight(ctx, id)
	if err != nil {
		return s.fail(ToolGeneInsight, start, err), nil, nil
	}
	return s.success(ToolGeneInsight, start, GeneInsightResult{
		Gene:    card.Gene,
		Status:  card.Status,
		Insight: card.Result,
		Error:   card.Error,
		Notice:  view.Notice,
	})
}

// success renders v as indented JSON text content.
func (s *Server) success(tool string, start time.Time, v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.fail(tool, start, fmt.Errorf("failed to encode result: %w", err)), nil, nil
	}
	elapsed := time.Since(start)
	s.metrics.ObserveTool(tool, nil, elapsed)
	s.logger.WithFields(logrus.Fields{
		"tool":        tool,
		"duration_ms": elapsed.Milliseconds(),
	}).Info("Tool invoked")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

func (s *Server) fail(tool string, start time.Time, err error) *mcp.CallToolResult {
	elapsed := time.Since(start)
	s.metrics.ObserveTool(tool, err, elapsed)
	s.logger.WithFields(logrus.Fields{
		"tool":        tool,
		"duration_ms": elapsed.Milliseconds(),
	}).WithError(err).Warn("Tool failed")
	return createErrorResult(errorMessage(err), err)
}
