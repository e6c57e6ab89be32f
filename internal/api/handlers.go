package api

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/render"
	"github.com/expression-portal-server/internal/service"
)

// GeneDetail is the JSON view of the selected gene.
type GeneDetail struct {
	Gene       string                   `json:"gene"`
	Samples    []service.SampleGeneView `json:"samples"`
	Expression service.ExpressionChart  `json:"expression"`
	Tissue     service.TissueChart      `json:"tissue"`
	Insight    service.InsightCard      `json:"insight"`
	Notice     string                   `json:"notice"`
}

// CohortResponse is the cohort of a gene against the session's samples.
type CohortResponse struct {
	Gene    string                  `json:"gene"`
	Scope   domain.CohortScope      `json:"scope"`
	Samples []domain.CohortSample   `json:"samples"`
	Chart   service.ExpressionChart `json:"chart"`
}

func newGeneDetail(view service.PortalView) GeneDetail {
	return GeneDetail{
		Gene:       view.Gene,
		Samples:    view.Samples,
		Expression: view.Expression,
		Tissue:     view.Tissue,
		Insight:    view.Insight,
		Notice:     view.Notice,
	}
}

// handleIndex renders the portal page. Query parameters are applied as state transitions in a
// fixed order: tab, scope, gene, table filter, table sort.
func (s *Server) handleIndex(c *gin.Context) {
	id := s.sessionID(c)

	view, err := s.applyTransitions(c, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.HTML(http.StatusOK, render.PageTemplate, render.NewPage(view))
}

func (s *Server) applyTransitions(c *gin.Context, id string) (service.PortalView, error) {
	view, err := s.portal.View(id)
	if err != nil {
		return view, err
	}

	if tab, ok := c.GetQuery("tab"); ok {
		if view, err = s.portal.SetTab(id, domain.Tab(tab)); err != nil {
			return view, err
		}
	}
	if raw, ok := c.GetQuery("scope"); ok {
		scope, err := domain.ParseCohortScope(raw)
		if err != nil {
			return view, err
		}
		if view, err = s.portal.SetScope(id, scope); err != nil {
			return view, err
		}
	}
	if gene, ok := c.GetQuery("gene"); ok {
		if view, err = s.portal.SelectGene(id, gene); err != nil {
			return view, err
		}
	}
	return s.applyTableParams(c, id, view)
}

// applyTableParams handles filter, sort and dir. A sort without dir is a header click and toggles.
func (s *Server) applyTableParams(c *gin.Context, id string, view service.PortalView) (service.PortalView, error) {
	query := view.Table.Query
	filter, hasFilter := c.GetQuery("filter")
	sortField, hasSort := c.GetQuery("sort")
	rawDir, hasDir := c.GetQuery("dir")

	var err error
	if hasSort && !hasDir {
		if view, err = s.portal.ToggleSort(id, sortField); err != nil {
			return view, err
		}
		query = view.Table.Query
		if !hasFilter {
			return view, nil
		}
	}
	if !hasFilter && !hasDir {
		return view, nil
	}

	if hasFilter {
		query.Filter = filter
	}
	if hasDir {
		dir, err := service.ParseSortDirection(rawDir)
		if err != nil {
			return view, err
		}
		query.Direction = dir
		if hasSort {
			query.SortField = sortField
		}
	}
	return s.portal.ApplyTableQuery(id, query)
}

func (s *Server) handlePatient(c *gin.Context) {
	view, err := s.portal.View(s.sessionID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": view.SessionID,
		"patient":   view.Patient,
		"tabs":      view.Tabs,
	})
}

func (s *Server) handleGeneTable(c *gin.Context) {
	id := s.sessionID(c)
	view, err := s.portal.View(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if view, err = s.applyTableParams(c, id, view); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.Table)
}

// handleGeneDetail selects the gene for the session and returns its views.
func (s *Server) handleGeneDetail(c *gin.Context) {
	view, err := s.portal.SelectGene(s.sessionID(c), c.Param("symbol"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newGeneDetail(view))
}

func (s *Server) handleCohort(c *gin.Context) {
	symbol, cohort, scope, ok := s.cohort(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, CohortResponse{
		Gene:    symbol,
		Scope:   scope,
		Samples: cohort,
		Chart:   service.BuildExpressionChart(symbol, cohort),
	})
}

func (s *Server) handleTissues(c *gin.Context) {
	id := s.sessionID(c)
	view, err := s.portal.View(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	symbol, err := s.portal.Panel().CanonicalGene(c.Param("symbol"))
	if err != nil {
		s.fail(c, err)
		return
	}
	tissues, err := s.portal.Tissues(symbol)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, service.BuildTissueChart(symbol, tissues, view.Patient.CancerType))
}

// handleInsight selects the gene and waits for its insight. Provider failures still answer 200
// with the placeholder; only hard failures produce the error card.
func (s *Server) handleInsight(c *gin.Context) {
	id := s.sessionID(c)
	if _, err := s.portal.SelectGene(id, c.Param("symbol")); err != nil {
		s.fail(c, err)
		return
	}
	card, err := s.portal.GenerateInsight(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (s *Server) handleExpressionSVG(c *gin.Context) {
	symbol, cohort, _, ok := s.cohort(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := render.RenderExpressionSVG(&buf, service.BuildExpressionChart(symbol, cohort)); err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/svg+xml", buf.Bytes())
}

// cohort resolves the cohort named by the :symbol path parameter and the scope query parameter
// (defaulting to the session's scope). The session's own cohort is served when both match its
// selection. It writes the error response itself and reports false on failure.
func (s *Server) cohort(c *gin.Context) (string, []domain.CohortSample, domain.CohortScope, bool) {
	id := s.sessionID(c)
	view, err := s.portal.View(id)
	if err != nil {
		s.fail(c, err)
		return "", nil, "", false
	}

	scope := view.Scope
	if raw, ok := c.GetQuery("scope"); ok {
		if scope, err = domain.ParseCohortScope(raw); err != nil {
			s.fail(c, err)
			return "", nil, "", false
		}
	}
	symbol, err := s.portal.Panel().CanonicalGene(c.Param("symbol"))
	if err != nil {
		s.fail(c, err)
		return "", nil, "", false
	}
	cohort, err := s.portal.Cohort(id, symbol, scope)
	if err != nil {
		s.fail(c, err)
		return "", nil, "", false
	}
	return symbol, cohort, scope, true
}
