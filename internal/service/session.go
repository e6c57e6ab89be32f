package service

import (
	"sync"
	"time"

	"github.com/expression-portal-server/internal/domain"
)

// InsightStatus is the state of the insight card.
type InsightStatus string

const (
	InsightIdle    InsightStatus = "idle"
	InsightLoading InsightStatus = "loading"
	InsightReady   InsightStatus = "ready"
	InsightError   InsightStatus = "error"
)

// InsightFailureMessage is shown when an insight request fails hard.
const InsightFailureMessage = "Failed to generate AI insight."

// InsightCard is the view-model of the AI insight panel.
type InsightCard struct {
	Gene     string                   `json:"gene"`
	Status   InsightStatus            `json:"status"`
	Result   *domain.AIAnalysisResult `json:"result,omitempty"`
	Error    string                   `json:"error,omitempty"`
	Sequence uint64                   `json:"sequence"`
}

// Session is the explicit state of one portal visitor. All access goes through PortalService, which
// serializes it with the session mutex.
type Session struct {
	ID        string
	Patient   domain.Patient
	Profiles  SampleProfiles
	Gene      string
	Scope     domain.CohortScope
	Tab       domain.Tab
	Query     GeneTableQuery
	Cohort    []domain.CohortSample
	Tissues   []domain.GTExData
	Insight   InsightCard
	CreatedAt time.Time
	UpdatedAt time.Time

	mu         sync.Mutex
	insightSeq uint64
}

// sampleViews flattens the session's samples for the selected gene.
func (s *Session) sampleViews() []SampleGeneView {
	return BuildSampleViews(s.Patient.Samples, s.Profiles, s.Gene)
}

// beginInsight moves the card to loading and clears the previous result. The returned sequence
// number identifies this request.
func (s *Session) beginInsight() InsightCard {
	s.insightSeq++
	s.Insight = InsightCard{
		Gene:     s.Gene,
		Status:   InsightLoading,
		Sequence: s.insightSeq,
	}
	s.UpdatedAt = time.Now()
	return s.Insight
}

// settledInsight returns the card when it holds a finished result for the selected gene.
func (s *Session) settledInsight() (InsightCard, bool) {
	if s.Insight.Gene != s.Gene {
		return InsightCard{}, false
	}
	switch s.Insight.Status {
	case InsightReady, InsightError:
		return s.Insight, true
	default:
		return InsightCard{}, false
	}
}

// resetInsight invalidates any request in flight and returns the card to idle for the current gene.
func (s *Session) resetInsight() {
	s.insightSeq++
	s.Insight = InsightCard{
		Gene:     s.Gene,
		Status:   InsightIdle,
		Sequence: s.insightSeq,
	}
}

// completeInsight applies a finished request. It reports false, leaving the card untouched, when a
// newer request or gene selection superseded seq.
func (s *Session) completeInsight(seq uint64, result domain.AIAnalysisResult, err error) (InsightCard, bool) {
	if seq != s.insightSeq {
		return s.Insight, false
	}
	if err != nil {
		s.Insight.Status = InsightError
		s.Insight.Result = nil
		s.Insight.Error = InsightFailureMessage
	} else {
		s.Insight.Status = InsightReady
		s.Insight.Result = &result
		s.Insight.Error = ""
	}
	s.UpdatedAt = time.Now()
	return s.Insight, true
}
