package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/monitoring"
	"github.com/expression-portal-server/internal/synth"
)

// stubInsight answers every request with a result naming the gene.
type stubInsight struct {
	mu       sync.Mutex
	requests []domain.InsightRequest
}

func (s *stubInsight) GetGeneInsight(_ context.Context, req domain.InsightRequest) domain.AIAnalysisResult {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return domain.AIAnalysisResult{
		Summary:                 req.GeneSymbol + " summary",
		TherapeuticImplications: "therapy",
		PrognosticValue:         "prognosis",
	}
}

// gatedInsight blocks each call until released.
type gatedInsight struct {
	started chan string
	release chan struct{}
}

func newGatedInsight() *gatedInsight {
	return &gatedInsight{started: make(chan string, 4), release: make(chan struct{})}
}

func (g *gatedInsight) GetGeneInsight(ctx context.Context, req domain.InsightRequest) domain.AIAnalysisResult {
	g.started <- req.GeneSymbol
	select {
	case <-g.release:
	case <-ctx.Done():
		return domain.PlaceholderInsight()
	}
	return domain.AIAnalysisResult{Summary: req.GeneSymbol, TherapeuticImplications: "t", PrognosticValue: "p"}
}

type panicInsight struct{}

func (panicInsight) GetGeneInsight(context.Context, domain.InsightRequest) domain.AIAnalysisResult {
	panic("boom")
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestPortal(insight domain.InsightProvider) *PortalService {
	return NewPortalService(PortalConfig{MaxSessions: 10, SessionTTL: time.Hour}, nil, synth.NewSeededSource(1), insight, nil, testLogger())
}

func TestNewSession_Defaults(t *testing.T) {
	portal := newTestPortal(&stubInsight{})
	view := portal.NewSession()

	assert.NotEmpty(t, view.SessionID)
	assert.Equal(t, "TCGA-02-0001", view.Patient.ID)
	assert.Equal(t, "EGFR", view.Gene)
	assert.Equal(t, domain.ScopePanCancer, view.Scope)
	assert.Equal(t, domain.TabExpression, view.Tab)
	assert.False(t, view.UnderConstruction)
	assert.Equal(t, InsightIdle, view.Insight.Status)
	assert.Equal(t, InsightNotice, view.Notice)

	require.Len(t, view.Tabs, 5)
	assert.True(t, view.Tabs[4].Active)

	require.Len(t, view.Samples, 2)
	assert.Equal(t, domain.AMP, view.Samples[0].Profile.CNA)
	assert.Equal(t, domain.GAIN, view.Samples[1].Profile.CNA)

	assert.Len(t, view.Table.Rows, 41)
	assert.Equal(t, "41 genes listed", view.Table.Footer)
	assert.Equal(t, "TCGA-02-0001-01", view.Table.Query.SortField)
	assert.Equal(t, Descending, view.Table.Query.Direction)

	assert.Len(t, view.Expression.Points, 202)
	assert.Len(t, view.Tissue.Bars, 22)
	assert.Equal(t, "Brain", view.Tissue.HighlightTissue)
}

func TestProfilesAreStablePerSession(t *testing.T) {
	portal := newTestPortal(&stubInsight{})
	view := portal.NewSession()

	first := view.Samples[0].Profile
	_, err := portal.SelectGene(view.SessionID, "MET")
	require.NoError(t, err)
	again, err := portal.SelectGene(view.SessionID, "EGFR")
	require.NoError(t, err)

	assert.Equal(t, first, again.Samples[0].Profile)
}

func TestSessionNotFound(t *testing.T) {
	portal := newTestPortal(&stubInsight{})

	_, err := portal.View("missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = portal.RequestInsight(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSelectGene(t *testing.T) {
	portal := newTestPortal(&stubInsight{})
	id := portal.NewSession().SessionID

	view, err := portal.SelectGene(id, "met")
	require.NoError(t, err)
	assert.Equal(t, "MET", view.Gene)
	assert.Equal(t, "MET", view.Expression.Gene)
	assert.Equal(t, "MET", view.Insight.Gene)
	assert.Equal(t, InsightIdle, view.Insight.Status)
	assert.Equal(t, domain.AMP, view.Samples[1].Profile.CNA)

	_, err = portal.SelectGene(id, "NOPE")
	assert.ErrorIs(t, err, domain.ErrUnknownGene)
}

func TestSetScope(t *testing.T) {
	portal := newTestPortal(&stubInsight{})
	id := portal.NewSession().SessionID

	view, err := portal.SetScope(id, domain.ScopeCancerType)
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeCancerType, view.Scope)
	assert.Len(t, view.Expression.Points, 62)

	_, err = portal.SetScope(id, "galactic")
	assert.ErrorIs(t, err, domain.ErrInvalidScope)
}

func TestSetTab(t *testing.T) {
	portal := newTestPortal(&stubInsight{})
	id := portal.NewSession().SessionID

	view, err := portal.SetTab(id, domain.TabClinical)
	require.NoError(t, err)
	assert.True(t, view.UnderConstruction)
	assert.True(t, view.Tabs[1].Active)

	_, err = portal.SetTab(id, "Imaging")
	assert.ErrorIs(t, err, domain.ErrInvalidTab)
}

func TestTableQuery(t *testing.T) {
	portal := newTestPortal(&stubInsight{})
	id := portal.NewSession().SessionID

	view, err := portal.ApplyTableQuery(id, GeneTableQuery{Filter: "ntrk", SortField: SortBySymbol})
	require.NoError(t, err)
	assert.Equal(t, []string{"NTRK1", "NTRK2", "NTRK3"}, rowSymbols(view.Table))
	assert.Equal(t, Ascending, view.Table.Query.Direction)

	view, err = portal.ToggleSort(id, SortBySymbol)
	require.NoError(t, err)
	assert.Equal(t, []string{"NTRK3", "NTRK2", "NTRK1"}, rowSymbols(view.Table))

	_, err = portal.ApplyTableQuery(id, GeneTableQuery{Direction: "up"})
	assert.ErrorIs(t, err, ErrInvalidSortDirection)
}

func TestCohortAndTissues(t *testing.T) {
	portal := newTestPortal(&stubInsight{})
	id := portal.NewSession().SessionID

	cohort, err := portal.Cohort(id, "pten", domain.ScopeCancerType)
	require.NoError(t, err)
	assert.Len(t, cohort, 62)
	assert.True(t, cohort[61].IsCurrentPatient)

	tissues, err := portal.Tissues("TP53")
	require.NoError(t, err)
	assert.Len(t, tissues, 22)

	_, err = portal.Tissues("NOPE")
	assert.ErrorIs(t, err, domain.ErrUnknownGene)

	assert.Len(t, portal.GenerateProfile("ANY-01"), 41)
}

func TestGenerateInsight_Ready(t *testing.T) {
	stub := &stubInsight{}
	portal := newTestPortal(stub)
	id := portal.NewSession().SessionID

	card, err := portal.GenerateInsight(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, InsightReady, card.Status)
	require.NotNil(t, card.Result)
	assert.Equal(t, "EGFR summary", card.Result.Summary)

	require.Len(t, stub.requests, 1)
	req := stub.requests[0]
	assert.Equal(t, "EGFR", req.GeneSymbol)
	assert.Equal(t, "Glioblastoma Multiforme", req.CancerType)
	assert.Len(t, req.Samples, 2)
	assert.Contains(t, req.NormalTissueContext, "tumor site")

	view, err := portal.View(id)
	require.NoError(t, err)
	assert.Equal(t, InsightReady, view.Insight.Status)
}

func TestGenerateInsight_PanicIsHardFailure(t *testing.T) {
	portal := newTestPortal(panicInsight{})
	id := portal.NewSession().SessionID

	card, err := portal.GenerateInsight(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, InsightError, card.Status)
	assert.Equal(t, InsightFailureMessage, card.Error)
	assert.Nil(t, card.Result)
}

func TestGenerateInsight_CancelledContextIsHardFailure(t *testing.T) {
	portal := newTestPortal(&stubInsight{})
	id := portal.NewSession().SessionID

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	card, err := portal.GenerateInsight(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, InsightError, card.Status)
}

func TestGenerateInsight_NoProvider(t *testing.T) {
	portal := newTestPortal(nil)
	id := portal.NewSession().SessionID

	card, err := portal.GenerateInsight(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, InsightError, card.Status)
}

func TestRequestInsight_LoadingThenReady(t *testing.T) {
	gated := newGatedInsight()
	portal := newTestPortal(gated)
	id := portal.NewSession().SessionID

	done := make(chan InsightCard, 1)
	card, err := portal.RequestInsight(context.Background(), id, func(c InsightCard) { done <- c })
	require.NoError(t, err)
	assert.Equal(t, InsightLoading, card.Status)
	assert.Nil(t, card.Result)

	<-gated.started
	view, err := portal.View(id)
	require.NoError(t, err)
	assert.Equal(t, InsightLoading, view.Insight.Status)

	close(gated.release)
	select {
	case final := <-done:
		assert.Equal(t, InsightReady, final.Status)
		assert.Equal(t, card.Sequence, final.Sequence)
	case <-time.After(5 * time.Second):
		t.Fatal("insight never completed")
	}
}

func TestRequestInsight_StaleResponseIsDiscarded(t *testing.T) {
	gated := newGatedInsight()
	portal := newTestPortal(gated)
	id := portal.NewSession().SessionID

	notified := make(chan InsightCard, 2)
	_, err := portal.RequestInsight(context.Background(), id, func(c InsightCard) { notified <- c })
	require.NoError(t, err)
	assert.Equal(t, "EGFR", <-gated.started)

	// Switching genes supersedes the EGFR request.
	_, err = portal.SelectGene(id, "MET")
	require.NoError(t, err)
	second, err := portal.RequestInsight(context.Background(), id, func(c InsightCard) { notified <- c })
	require.NoError(t, err)
	assert.Equal(t, "MET", <-gated.started)

	close(gated.release)

	select {
	case final := <-notified:
		assert.Equal(t, "MET", final.Gene)
		assert.Equal(t, second.Sequence, final.Sequence)
		require.NotNil(t, final.Result)
		assert.Equal(t, "MET", final.Result.Summary)
	case <-time.After(5 * time.Second):
		t.Fatal("insight never completed")
	}

	select {
	case extra := <-notified:
		t.Fatalf("stale insight was delivered: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	view, err := portal.View(id)
	require.NoError(t, err)
	assert.Equal(t, "MET", view.Insight.Gene)
	assert.Equal(t, InsightReady, view.Insight.Status)
}

func TestSessionCompleteInsight(t *testing.T) {
	sess := &Session{Gene: "EGFR"}
	first := sess.beginInsight()
	second := sess.beginInsight()

	_, applied := sess.completeInsight(first.Sequence, domain.PlaceholderInsight(), nil)
	assert.False(t, applied)
	assert.Equal(t, InsightLoading, sess.Insight.Status)

	card, applied := sess.completeInsight(second.Sequence, domain.PlaceholderInsight(), nil)
	assert.True(t, applied)
	assert.Equal(t, InsightReady, card.Status)
	assert.Equal(t, domain.PlaceholderInsight(), *card.Result)
}

func TestNewPortalConfig(t *testing.T) {
	cfg := &domain.Config{
		Insight: domain.InsightConfig{Timeout: 30 * time.Second},
		Session: domain.SessionConfig{MaxSessions: 50, TTL: time.Hour},
	}

	pc := NewPortalConfig(cfg)
	assert.Equal(t, 50, pc.MaxSessions)
	assert.Equal(t, time.Hour, pc.SessionTTL)
	assert.Equal(t, 35*time.Second, pc.InsightTimeout)

	cfg.Insight.Timeout = 0
	assert.Zero(t, NewPortalConfig(cfg).InsightTimeout)
}

func TestRequestInsight_SettledCardIsReused(t *testing.T) {
	stub := &stubInsight{}
	portal := newTestPortal(stub)
	id := portal.NewSession().SessionID

	first, err := portal.GenerateInsight(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, InsightReady, first.Status)

	_, err = portal.ToggleSort(id, "symbol")
	require.NoError(t, err)
	_, err = portal.SetScope(id, domain.ScopeCancerType)
	require.NoError(t, err)
	_, err = portal.SelectGene(id, "egfr")
	require.NoError(t, err)

	card, err := portal.RequestInsight(context.Background(), id, func(InsightCard) {
		t.Error("no request should have been issued")
	})
	require.NoError(t, err)
	assert.Equal(t, first, card)

	stub.mu.Lock()
	assert.Len(t, stub.requests, 1)
	stub.mu.Unlock()

	// A new gene clears the card, so the next request goes out.
	_, err = portal.SelectGene(id, "MET")
	require.NoError(t, err)
	done := make(chan InsightCard, 1)
	card, err = portal.RequestInsight(context.Background(), id, func(c InsightCard) { done <- c })
	require.NoError(t, err)
	assert.Equal(t, InsightLoading, card.Status)
	select {
	case final := <-done:
		assert.Equal(t, "MET summary", final.Result.Summary)
	case <-time.After(5 * time.Second):
		t.Fatal("insight never completed")
	}
}

func TestCohort_MatchesSessionSelection(t *testing.T) {
	portal := newTestPortal(&stubInsight{})
	view := portal.NewSession()

	first, err := portal.Cohort(view.SessionID, "egfr", domain.ScopePanCancer)
	require.NoError(t, err)
	second, err := portal.Cohort(view.SessionID, "EGFR", domain.ScopePanCancer)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, view.Expression, BuildExpressionChart("EGFR", first))

	// The returned slice is a copy of the session's cohort.
	first[0].Expression = 99
	again, err := portal.Cohort(view.SessionID, "EGFR", domain.ScopePanCancer)
	require.NoError(t, err)
	assert.NotEqual(t, 99.0, again[0].Expression)

	other, err := portal.Cohort(view.SessionID, "EGFR", domain.ScopeCancerType)
	require.NoError(t, err)
	assert.Len(t, other, 62)
}

func TestSessionGauge_FollowsExpiry(t *testing.T) {
	metrics := monitoring.NewMetrics()
	portal := NewPortalService(PortalConfig{MaxSessions: 10, SessionTTL: 50 * time.Millisecond},
		nil, synth.NewSeededSource(1), &stubInsight{}, metrics, testLogger())

	portal.NewSession()
	portal.NewSession()
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ActiveSessions))

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveSessions) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionGauge_FollowsCapacityEviction(t *testing.T) {
	metrics := monitoring.NewMetrics()
	portal := NewPortalService(PortalConfig{MaxSessions: 2, SessionTTL: time.Hour},
		nil, synth.NewSeededSource(1), &stubInsight{}, metrics, testLogger())

	first := portal.NewSession()
	portal.NewSession()
	portal.NewSession()

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ActiveSessions))
	_, err := portal.View(first.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
