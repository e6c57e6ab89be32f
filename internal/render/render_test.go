package render

import (
	"bytes"
	"io"
	"io/fs"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/service"
	"github.com/expression-portal-server/internal/synth"
)

func newTestPortal(t *testing.T) *service.PortalService {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return service.NewPortalService(service.PortalConfig{}, nil, synth.NewSeededSource(7), nil, nil, logger)
}

func TestRenderExpressionSVG(t *testing.T) {
	cohort := []domain.CohortSample{
		{SampleID: "TCGA-XX-1000", Expression: -1.2},
		{SampleID: "TCGA-XX-1001", Expression: 0.3},
		{SampleID: "TCGA-XX-1002", Expression: 1.1},
		{SampleID: "TCGA-02-0001-01", SampleType: "Primary Solid Tumor", Expression: 3.1, IsCurrentPatient: true},
	}
	chart := service.BuildExpressionChart("EGFR", cohort)

	var buf bytes.Buffer
	require.NoError(t, RenderExpressionSVG(&buf, chart))

	svg := buf.String()
	assert.Contains(t, svg, "<svg")
	assert.Contains(t, svg, "</svg>")
	assert.Contains(t, svg, "Cohort")
	assert.Contains(t, svg, "Primary Solid Tumor (+3.10)")
	assert.Contains(t, svg, "+2 SD")
}

func TestRenderExpressionSVG_EmptyCohort(t *testing.T) {
	var buf bytes.Buffer
	err := RenderExpressionSVG(&buf, service.ExpressionChart{Gene: "EGFR"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EGFR")
}

func TestRenderPage(t *testing.T) {
	tmpl, err := Templates()
	require.NoError(t, err)

	portal := newTestPortal(t)
	view := portal.NewSession()

	t.Run("expression tab", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderPage(&buf, tmpl, view))

		html := buf.String()
		assert.Contains(t, html, "TCGA-02-0001")
		assert.Contains(t, html, "Glioblastoma Multiforme")
		assert.Contains(t, html, "<svg")
		assert.Contains(t, html, "GTEx V8 Release")
		assert.Contains(t, html, "41 genes listed")
		assert.Contains(t, html, service.InsightNotice)
		assert.Contains(t, html, "Waiting for analysis of EGFR.")
		assert.NotContains(t, html, "Tab Under Construction")
	})

	t.Run("under construction tab", func(t *testing.T) {
		clinical, err := portal.SetTab(view.SessionID, domain.TabClinical)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, RenderPage(&buf, tmpl, clinical))
		assert.Contains(t, buf.String(), "Tab Under Construction")
		assert.NotContains(t, buf.String(), "<svg")
	})

	t.Run("empty filter", func(t *testing.T) {
		_, err := portal.SetTab(view.SessionID, domain.TabExpression)
		require.NoError(t, err)
		filtered, err := portal.ApplyTableQuery(view.SessionID, service.GeneTableQuery{Filter: "zzz"})
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, RenderPage(&buf, tmpl, filtered))
		assert.Contains(t, buf.String(), service.EmptyTableMessage)
		assert.Contains(t, buf.String(), "0 genes listed")
	})
}

func TestZScoreClass(t *testing.T) {
	tests := []struct {
		z    float64
		want string
	}{
		{2.0, "z-high"},
		{1.5, "z-normal"},
		{0, "z-normal"},
		{-1.5, "z-normal"},
		{-1.6, "z-low"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ZScoreClass(tt.z), "z=%v", tt.z)
	}
}

func TestLinksAndArrows(t *testing.T) {
	assert.Equal(t, "/?gene=EGFR", GeneLink("EGFR"))
	assert.Equal(t, "/?tab=Copy+Number", TabLink(domain.TabCNA))
	assert.Equal(t, "/?scope=cancer_type", ScopeLink(domain.ScopeCancerType))
	assert.Equal(t, "/?sort=TCGA-02-0001-01", SortLink("TCGA-02-0001-01"))

	q := service.GeneTableQuery{SortField: "symbol", Direction: service.Ascending}
	assert.Equal(t, "▲", SortArrow(q, "symbol"))
	assert.Equal(t, "", SortArrow(q, "TCGA-02-0001-01"))
	q.Direction = service.Descending
	assert.Equal(t, "▼", SortArrow(q, "symbol"))
}

func TestCNAClass(t *testing.T) {
	assert.Equal(t, "badge badge-gain", CNAClass(domain.AMP))
	assert.Equal(t, "badge badge-loss", CNAClass(domain.HOMDEL))
	assert.Equal(t, "badge", CNAClass(domain.DIPLOID))
}

func TestStatic(t *testing.T) {
	for _, name := range []string{"portal.js", "portal.css"} {
		data, err := fs.ReadFile(Static(), name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, data)
	}
}

func TestPortalScript_RequestsOnlyUnsettledInsight(t *testing.T) {
	data, err := fs.ReadFile(Static(), "portal.js")
	require.NoError(t, err)
	script := string(data)

	assert.Contains(t, script, `card.getAttribute("data-status")`)
	assert.Contains(t, script, `status === "idle" || status === "loading"`)
}
