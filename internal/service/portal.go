package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/monitoring"
	"github.com/expression-portal-server/internal/synth"
)

// DefaultGene is selected when a session starts.
const DefaultGene = "EGFR"

const insightGrace = 5 * time.Second

// InsightNotice is shown beneath every AI insight.
const InsightNotice = "AI-generated content. Verify with clinical literature."

// PortalConfig configures the portal service.
type PortalConfig struct {
	MaxSessions    int
	SessionTTL     time.Duration
	InsightTimeout time.Duration
}

// NewPortalConfig derives the service settings from the application config. A whole insight request
// gets a few seconds beyond the client timeout so the client's own timeout fires first.
func NewPortalConfig(config *domain.Config) PortalConfig {
	pc := PortalConfig{
		MaxSessions: config.Session.MaxSessions,
		SessionTTL:  config.Session.TTL,
	}
	if config.Insight.Timeout > 0 {
		pc.InsightTimeout = config.Insight.Timeout + insightGrace
	}
	return pc
}

// TabView is one entry of the patient view tab bar.
type TabView struct {
	Name   domain.Tab `json:"name"`
	Active bool       `json:"active"`
}

// PortalView is everything needed to render the portal for one session. It is recomputed from the
// session state on every call.
type PortalView struct {
	SessionID         string             `json:"sessionId"`
	Patient           domain.Patient     `json:"patient"`
	Tabs              []TabView          `json:"tabs"`
	Tab               domain.Tab         `json:"tab"`
	UnderConstruction bool               `json:"underConstruction"`
	Gene              string             `json:"gene"`
	Scope             domain.CohortScope `json:"scope"`
	Samples           []SampleGeneView   `json:"samples"`
	Table             GeneTable          `json:"table"`
	Expression        ExpressionChart    `json:"expression"`
	Tissue            TissueChart        `json:"tissue"`
	Insight           InsightCard        `json:"insight"`
	Notice            string             `json:"notice"`
}

// PortalService owns the per-session portal state and drives every state transition: gene
// selection, cohort scope, tab, table query and the insight card.
type PortalService struct {
	config   PortalConfig
	panel    *synth.Panel
	profiles *synth.ProfileGenerator
	cohorts  *synth.CohortSynthesizer
	tissues  *synth.TissueSynthesizer
	insight  domain.InsightProvider
	sessions *expirable.LRU[string, *Session]
	metrics  *monitoring.Metrics
	logger   *logrus.Logger
}

// NewPortalService creates a new portal service. A nil panel selects the embedded panel and a nil
// random source the shared one.
func NewPortalService(config PortalConfig, panel *synth.Panel, rnd synth.RandomSource, insight domain.InsightProvider, metrics *monitoring.Metrics, logger *logrus.Logger) *PortalService {
	if panel == nil {
		panel = synth.DefaultPanel()
	}
	if rnd == nil {
		rnd = synth.NewSharedSource()
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = 1000
	}

	s := &PortalService{
		config:   config,
		panel:    panel,
		profiles: synth.NewProfileGenerator(panel, rnd),
		cohorts:  synth.NewCohortSynthesizer(panel, rnd),
		tissues:  synth.NewTissueSynthesizer(panel, rnd),
		insight:  insight,
		metrics:  metrics,
		logger:   logger,
	}
	s.sessions = expirable.NewLRU[string, *Session](config.MaxSessions, func(id string, _ *Session) {
		s.metrics.SessionEvicted()
		s.logger.WithField("session_id", id).Debug("Portal session evicted")
	}, config.SessionTTL)
	return s
}

// Panel returns the gene panel the service generates data for.
func (s *PortalService) Panel() *synth.Panel {
	return s.panel
}

// NewSession creates a session for the demo patient: profiles are generated once per sample, the
// default gene is selected and the insight card starts idle.
func (s *PortalService) NewSession() PortalView {
	patient := domain.DemoPatient()
	now := time.Now()

	sess := &Session{
		ID:        uuid.New().String(),
		Patient:   patient,
		Profiles:  make(SampleProfiles, len(patient.Samples)),
		Gene:      DefaultGene,
		Scope:     domain.ScopePanCancer,
		Tab:       domain.TabExpression,
		Query:     DefaultGeneTableQuery(patient.Samples),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, sample := range patient.Samples {
		sess.Profiles[sample.ID] = s.profiles.Generate(sample.ID)
	}
	if !s.panel.HasGene(sess.Gene) && len(s.panel.Genes) > 0 {
		sess.Gene = s.panel.Genes[0]
	}
	s.refreshGeneData(sess)
	sess.resetInsight()

	s.sessions.Add(sess.ID, sess)
	s.metrics.SetActiveSessions(s.sessions.Len())

	s.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"patient_id": patient.ID,
		"samples":    len(patient.Samples),
	}).Info("Created portal session")

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.buildView(sess)
}

// Session looks up a live session and refreshes its TTL.
func (s *PortalService) Session(id string) (*Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	s.sessions.Add(id, sess)
	return sess, nil
}

// View returns the current view of a session.
func (s *PortalService) View(id string) (PortalView, error) {
	return s.update(id, func(*Session) error { return nil })
}

// SelectGene makes gene the selected gene, regenerates its cohort and tissue data and invalidates
// any insight still in flight for the previous gene.
func (s *PortalService) SelectGene(id, gene string) (PortalView, error) {
	symbol, err := s.panel.CanonicalGene(gene)
	if err != nil {
		return PortalView{}, err
	}
	return s.update(id, func(sess *Session) error {
		if sess.Gene == symbol {
			return nil
		}
		sess.Gene = symbol
		s.refreshGeneData(sess)
		sess.resetInsight()
		return nil
	})
}

// SetScope switches the cohort scope and regenerates the cohort for the selected gene.
func (s *PortalService) SetScope(id string, scope domain.CohortScope) (PortalView, error) {
	if !scope.IsValid() {
		return PortalView{}, fmt.Errorf("%w: %q", domain.ErrInvalidScope, scope)
	}
	return s.update(id, func(sess *Session) error {
		if sess.Scope == scope {
			return nil
		}
		sess.Scope = scope
		sess.Cohort = s.synthesizeCohort(sess, sess.Gene, scope)
		return nil
	})
}

// SetTab switches the patient view tab.
func (s *PortalService) SetTab(id string, tab domain.Tab) (PortalView, error) {
	parsed, err := domain.ParseTab(string(tab))
	if err != nil {
		return PortalView{}, err
	}
	return s.update(id, func(sess *Session) error {
		sess.Tab = parsed
		return nil
	})
}

// ApplyTableQuery replaces the gene table's filter and sort state.
func (s *PortalService) ApplyTableQuery(id string, query GeneTableQuery) (PortalView, error) {
	if query.Direction != "" && !query.Direction.IsValid() {
		return PortalView{}, fmt.Errorf("%w: %q", ErrInvalidSortDirection, query.Direction)
	}
	return s.update(id, func(sess *Session) error {
		sess.Query = resolveQuery(query, sess.Patient.Samples)
		return nil
	})
}

// ToggleSort applies a click on a gene table column header.
func (s *PortalService) ToggleSort(id, field string) (PortalView, error) {
	return s.update(id, func(sess *Session) error {
		sess.Query = resolveQuery(sess.Query.Toggle(field), sess.Patient.Samples)
		return nil
	})
}

// Cohort returns the cohort of gene against the session's samples without changing the session.
// The session's own cohort is returned when gene and scope match its selection, so every view of
// the selected gene shows the same points; any other combination is synthesized afresh.
func (s *PortalService) Cohort(id, gene string, scope domain.CohortScope) ([]domain.CohortSample, error) {
	symbol, err := s.panel.CanonicalGene(gene)
	if err != nil {
		return nil, err
	}
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if symbol == sess.Gene && scope == sess.Scope && len(sess.Cohort) > 0 {
		return slices.Clone(sess.Cohort), nil
	}
	return s.synthesizeCohort(sess, symbol, scope), nil
}

// Tissues synthesizes normal-tissue expression for gene.
func (s *PortalService) Tissues(gene string) ([]domain.GTExData, error) {
	symbol, err := s.panel.CanonicalGene(gene)
	if err != nil {
		return nil, err
	}
	return s.tissues.Synthesize(symbol), nil
}

// GenerateProfile runs the profile generator for an arbitrary sample id.
func (s *PortalService) GenerateProfile(sampleID string) []domain.GeneProfile {
	return s.profiles.Generate(sampleID)
}

// RequestInsight starts an insight request for the selected gene and returns the loading card at
// once. The request runs on its own goroutine bound to ctx; notify receives the final card unless a
// newer request or gene selection superseded it. ctx must outlive the calling request handler.
// A card already settled for the selected gene is returned as is and no request is issued; only a
// gene selection clears it.
func (s *PortalService) RequestInsight(ctx context.Context, id string, notify func(InsightCard)) (InsightCard, error) {
	sess, err := s.Session(id)
	if err != nil {
		return InsightCard{}, err
	}

	sess.mu.Lock()
	if settled, ok := sess.settledInsight(); ok {
		sess.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"gene":       settled.Gene,
			"status":     settled.Status,
		}).Debug("Insight already settled for selected gene")
		return settled, nil
	}
	card := sess.beginInsight()
	req := s.insightRequest(sess)
	sess.mu.Unlock()

	go func() {
		final, applied := s.runInsight(ctx, sess, card.Sequence, req)
		if applied && notify != nil {
			notify(final)
		}
	}()
	return card, nil
}

// GenerateInsight runs an insight request for the selected gene and waits for it. The returned card
// is the session's card after completion, which is the newer request's card when this one went stale.
func (s *PortalService) GenerateInsight(ctx context.Context, id string) (InsightCard, error) {
	sess, err := s.Session(id)
	if err != nil {
		return InsightCard{}, err
	}

	sess.mu.Lock()
	card := sess.beginInsight()
	req := s.insightRequest(sess)
	sess.mu.Unlock()

	final, _ := s.runInsight(ctx, sess, card.Sequence, req)
	return final, nil
}

func (s *PortalService) runInsight(ctx context.Context, sess *Session, seq uint64, req domain.InsightRequest) (InsightCard, bool) {
	result, err := s.fetchInsight(ctx, req)

	sess.mu.Lock()
	card, applied := sess.completeInsight(seq, result, err)
	sess.mu.Unlock()

	fields := logrus.Fields{
		"session_id": sess.ID,
		"gene":       req.GeneSymbol,
		"sequence":   seq,
	}
	switch {
	case !applied:
		s.logger.WithFields(fields).WithField("latest", card.Sequence).Info("Discarded stale insight response")
		s.metrics.ObserveInsight(monitoring.OutcomeStale, "superseded", 0)
	case err != nil:
		s.logger.WithFields(fields).WithError(err).Warn("Insight request failed")
		s.metrics.ObserveInsight(monitoring.OutcomeError, "hard_failure", 0)
	default:
		s.logger.WithFields(fields).Debug("Insight applied")
	}
	return card, applied
}

// fetchInsight calls the provider, converting cancellation and panics into hard failures.
func (s *PortalService) fetchInsight(ctx context.Context, req domain.InsightRequest) (result domain.AIAnalysisResult, err error) {
	if s.insight == nil {
		return domain.AIAnalysisResult{}, fmt.Errorf("no insight provider configured")
	}
	if s.config.InsightTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.InsightTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("insight provider panicked: %v", r)
		}
	}()

	result = s.insight.GetGeneInsight(ctx, req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.AIAnalysisResult{}, fmt.Errorf("insight request aborted: %w", ctxErr)
	}
	return result, nil
}

func (s *PortalService) insightRequest(sess *Session) domain.InsightRequest {
	return domain.InsightRequest{
		GeneSymbol:          sess.Gene,
		CancerType:          sess.Patient.CancerType,
		Samples:             SampleContexts(sess.sampleViews()),
		NormalTissueContext: NormalTissueSummary(sess.Gene, sess.Tissues, TumorSiteTissue(sess.Patient.CancerType)),
	}
}

// update applies fn to the session under its lock and returns the recomputed view.
func (s *PortalService) update(id string, fn func(*Session) error) (PortalView, error) {
	sess, err := s.Session(id)
	if err != nil {
		return PortalView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := fn(sess); err != nil {
		return PortalView{}, err
	}
	sess.UpdatedAt = time.Now()
	return s.buildView(sess), nil
}

func (s *PortalService) refreshGeneData(sess *Session) {
	sess.Cohort = s.synthesizeCohort(sess, sess.Gene, sess.Scope)
	sess.Tissues = s.tissues.Synthesize(sess.Gene)
}

func (s *PortalService) synthesizeCohort(sess *Session, gene string, scope domain.CohortScope) []domain.CohortSample {
	views := BuildSampleViews(sess.Patient.Samples, sess.Profiles, gene)
	return s.cohorts.Synthesize(gene, scope, PatientRefs(views), sess.Patient.CancerTypeCode())
}

func (s *PortalService) buildView(sess *Session) PortalView {
	tabs := make([]TabView, 0, len(domain.AllTabs()))
	for _, tab := range domain.AllTabs() {
		tabs = append(tabs, TabView{Name: tab, Active: tab == sess.Tab})
	}

	return PortalView{
		SessionID:         sess.ID,
		Patient:           sess.Patient,
		Tabs:              tabs,
		Tab:               sess.Tab,
		UnderConstruction: sess.Tab != domain.TabExpression,
		Gene:              sess.Gene,
		Scope:             sess.Scope,
		Samples:           sess.sampleViews(),
		Table:             BuildGeneTable(BuildGeneMatrix(sess.Patient.Samples, sess.Profiles), sess.Patient.Samples, sess.Query),
		Expression:        BuildExpressionChart(sess.Gene, sess.Cohort),
		Tissue:            BuildTissueChart(sess.Gene, sess.Tissues, sess.Patient.CancerType),
		Insight:           sess.Insight,
		Notice:            InsightNotice,
	}
}
