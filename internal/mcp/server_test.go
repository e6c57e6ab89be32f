package mcp

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/monitoring"
	"github.com/expression-portal-server/internal/service"
	"github.com/expression-portal-server/internal/synth"
)

type fixedInsight struct{}

func (fixedInsight) GetGeneInsight(_ context.Context, req domain.InsightRequest) domain.AIAnalysisResult {
	return domain.AIAnalysisResult{
		Summary:                 req.GeneSymbol + " in " + req.CancerType,
		TherapeuticImplications: "therapy",
		PrognosticValue:         "prognosis",
	}
}

func newTestServer(t *testing.T, insight domain.InsightProvider) (*Server, *monitoring.Metrics) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	metrics := monitoring.NewMetrics()
	portal := service.NewPortalService(service.PortalConfig{MaxSessions: 4, SessionTTL: time.Hour},
		nil, synth.NewSeededSource(3), insight, metrics, logger)

	server := NewServer(domain.MCPConfig{ServerName: "expression-portal", ServerVersion: "test"}, portal, metrics, logger)
	return server, metrics
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func decodeResult[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, result.IsError, resultText(t, result))
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &v))
	return v
}

func TestNewServer(t *testing.T) {
	server, _ := newTestServer(t, fixedInsight{})

	assert.NotNil(t, server.mcpServer)
	assert.Equal(t, "expression-portal", server.config.ServerName)
	assert.Len(t, ToolNames(), 5)
}

func TestGetPatient(t *testing.T) {
	server, metrics := newTestServer(t, fixedInsight{})

	result, _, err := server.handleGetPatient(context.Background(), nil, GetPatientParams{})
	require.NoError(t, err)

	patient := decodeResult[domain.Patient](t, result)
	assert.Equal(t, "TCGA-02-0001", patient.ID)
	assert.Len(t, patient.Samples, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ToolInvocations.WithLabelValues(ToolGetPatient, "success")))
}

func TestSessionIsShared(t *testing.T) {
	server, _ := newTestServer(t, fixedInsight{})
	first := server.session()
	assert.Equal(t, first, server.session())
}

func TestGenerateGeneProfile(t *testing.T) {
	server, _ := newTestServer(t, fixedInsight{})
	ctx := context.Background()

	t.Run("whole panel", func(t *testing.T) {
		result, _, err := server.handleGenerateGeneProfile(ctx, nil, GenerateGeneProfileParams{SampleID: "TCGA-02-0001-01"})
		require.NoError(t, err)
		out := decodeResult[GenerateGeneProfileResult](t, result)
		assert.False(t, out.Recurrent)
		assert.Len(t, out.Profiles, 41)
	})

	t.Run("single gene of recurrent sample", func(t *testing.T) {
		result, _, err := server.handleGenerateGeneProfile(ctx, nil, GenerateGeneProfileParams{SampleID: "TCGA-02-0001-02", Gene: "met"})
		require.NoError(t, err)
		out := decodeResult[GenerateGeneProfileResult](t, result)
		assert.True(t, out.Recurrent)
		require.Len(t, out.Profiles, 1)
		assert.Equal(t, "MET", out.Profiles[0].Symbol)
		assert.Equal(t, domain.AMP, out.Profiles[0].CNA)
		assert.Equal(t, "PTPRZ1-MET fusion", out.Profiles[0].StructuralVariant)
	})

	t.Run("missing sample id", func(t *testing.T) {
		result, _, err := server.handleGenerateGeneProfile(ctx, nil, GenerateGeneProfileParams{})
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "Missing required parameter")
	})
}

func TestSynthesizeCohort(t *testing.T) {
	server, _ := newTestServer(t, fixedInsight{})
	ctx := context.Background()

	tests := []struct {
		name  string
		scope string
		want  int
	}{
		{"default scope", "", 202},
		{"pan-cancer", "pancancer", 202},
		{"same cancer type", "cancer_type", 62},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _, err := server.handleSynthesizeCohort(ctx, nil, SynthesizeCohortParams{Gene: "egfr", Scope: tt.scope})
			require.NoError(t, err)
			out := decodeResult[SynthesizeCohortResult](t, result)
			assert.Equal(t, "EGFR", out.Gene)
			assert.Equal(t, tt.want, out.Size)
			assert.Len(t, out.Samples, tt.want)
			assert.Len(t, out.Patients, 2)
		})
	}

	t.Run("invalid scope", func(t *testing.T) {
		result, _, err := server.handleSynthesizeCohort(ctx, nil, SynthesizeCohortParams{Gene: "EGFR", Scope: "galaxy"})
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "Invalid cohort scope")
	})

	t.Run("unknown gene", func(t *testing.T) {
		result, _, err := server.handleSynthesizeCohort(ctx, nil, SynthesizeCohortParams{Gene: "NOPE"})
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "Unknown gene")
	})
}

func TestNormalTissueExpression(t *testing.T) {
	server, _ := newTestServer(t, fixedInsight{})

	result, _, err := server.handleNormalTissueExpression(context.Background(), nil, NormalTissueParams{Gene: "MET"})
	require.NoError(t, err)
	chart := decodeResult[service.TissueChart](t, result)
	assert.Equal(t, "MET", chart.Gene)
	assert.Len(t, chart.Bars, 22)
	assert.Equal(t, "Liver", chart.Bars[0].Tissue)
	assert.Equal(t, "Brain", chart.HighlightTissue)
}

func TestGeneInsight(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		server, _ := newTestServer(t, fixedInsight{})
		result, _, err := server.handleGeneInsight(context.Background(), nil, GeneInsightParams{Gene: "pten"})
		require.NoError(t, err)
		out := decodeResult[GeneInsightResult](t, result)
		assert.Equal(t, "PTEN", out.Gene)
		assert.Equal(t, service.InsightReady, out.Status)
		require.NotNil(t, out.Insight)
		assert.Equal(t, "PTEN in Glioblastoma Multiforme", out.Insight.Summary)
		assert.Equal(t, service.InsightNotice, out.Notice)
	})

	t.Run("no provider", func(t *testing.T) {
		server, _ := newTestServer(t, nil)
		result, _, err := server.handleGeneInsight(context.Background(), nil, GeneInsightParams{Gene: "EGFR"})
		require.NoError(t, err)
		out := decodeResult[GeneInsightResult](t, result)
		assert.Equal(t, service.InsightError, out.Status)
		assert.Equal(t, service.InsightFailureMessage, out.Error)
		assert.Nil(t, out.Insight)
	})

	t.Run("unknown gene", func(t *testing.T) {
		server, metrics := newTestServer(t, fixedInsight{})
		result, _, err := server.handleGeneInsight(context.Background(), nil, GeneInsightParams{Gene: "NOPE"})
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ToolInvocations.WithLabelValues(ToolGeneInsight, "error")))
	})
}
