// Package domain contains the core entities of the expression portal: the patient and its samples,
// per-gene alteration profiles, cohort and normal-tissue reference data, and AI insight results.
//
// All genomic values in this package are synthetic. They emulate the shape of cBioPortal mRNA
// expression z-scores (relative to diploid samples) and GTEx median TPM values.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Expression z-scores are always clamped to this range.
const (
	MinZScore = -4.0
	MaxZScore = 4.0
)

// Expression level thresholds used for badges and prompt wording.
const (
	HighExpressionThreshold = 1.5
	LowExpressionThreshold  = -1.5
)

// CNAState represents the copy-number alteration state of a gene in a sample.
type CNAState string

const (
	AMP     CNAState = "AMP"
	GAIN    CNAState = "GAIN"
	DIPLOID CNAState = "DIPLOID"
	HETLOSS CNAState = "HETLOSS"
	HOMDEL  CNAState = "HOMDEL"
)

// CohortScope selects the background population a patient sample is compared against.
type CohortScope string

const (
	ScopePanCancer  CohortScope = "pancancer"
	ScopeCancerType CohortScope = "cancer_type"
)

// Tab identifies a patient view tab.
type Tab string

const (
	TabSummary    Tab = "Summary"
	TabClinical   Tab = "Clinical"
	TabMutations  Tab = "Mutations"
	TabCNA        Tab = "Copy Number"
	TabExpression Tab = "Expression"
)

// Validation errors
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidCNAState = errors.New("invalid copy-number alteration state")
	ErrInvalidScope    = errors.New("invalid cohort scope")
	ErrInvalidTab      = errors.New("invalid tab")
	ErrUnknownGene     = errors.New("gene is not part of the panel")
	ErrSessionNotFound = errors.New("session not found")
)

// IsValid reports whether the state is one of the known CNA states.
func (c CNAState) IsValid() bool {
	switch c {
	case AMP, GAIN, DIPLOID, HETLOSS, HOMDEL:
		return true
	default:
		return false
	}
}

// String returns the string representation of the CNA state.
func (c CNAState) String() string {
	return string(c)
}

// IsGain reports whether the state adds genomic copies.
func (c CNAState) IsGain() bool {
	return c == AMP || c == GAIN
}

// IsLoss reports whether the state removes genomic copies.
func (c CNAState) IsLoss() bool {
	return c == HETLOSS || c == HOMDEL
}

// IsAltered reports whether the state differs from the diploid baseline.
func (c CNAState) IsAltered() bool {
	return c != "" && c != DIPLOID
}

// ParseCNAState parses a CNA state case-insensitively.
func ParseCNAState(s string) (CNAState, error) {
	state := CNAState(strings.ToUpper(strings.TrimSpace(s)))
	if !state.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCNAState, s)
	}
	return state, nil
}

// IsValid reports whether the scope is known.
func (s CohortScope) IsValid() bool {
	return s == ScopePanCancer || s == ScopeCancerType
}

// String returns the string representation of the scope.
func (s CohortScope) String() string {
	return string(s)
}

// BackgroundSize returns the number of synthetic background samples for the scope.
func (s CohortScope) BackgroundSize() int {
	if s == ScopeCancerType {
		return 60
	}
	return 200
}

// ParseCohortScope parses a scope string. An empty string selects pan-cancer.
func ParseCohortScope(s string) (CohortScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ScopePanCancer):
		return ScopePanCancer, nil
	case string(ScopeCancerType):
		return ScopeCancerType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

// AllTabs returns the patient view tabs in display order.
func AllTabs() []Tab {
	return []Tab{TabSummary, TabClinical, TabMutations, TabCNA, TabExpression}
}

// ParseTab parses a tab name case-insensitively. An empty string selects the expression tab.
func ParseTab(s string) (Tab, error) {
	if strings.TrimSpace(s) == "" {
		return TabExpression, nil
	}
	for _, tab := range AllTabs() {
		if strings.EqualFold(string(tab), strings.TrimSpace(s)) {
			return tab, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTab, s)
}

// Sample is a tumour sample owned by a patient.
type Sample struct {
	ID   string `json:"sampleId"`
	Type string `json:"sampleType"`
}

// Patient is the demo patient shown by the portal. It is created once per session and never mutated.
type Patient struct {
	ID            string   `json:"id"`
	StudyID       string   `json:"studyId"`
	CancerType    string   `json:"cancerType"`
	Age           int      `json:"age"`
	Sex           string   `json:"sex"`
	MutationCount int      `json:"mutationCount"`
	Samples       []Sample `json:"samples"`
}

// CancerTypeCode derives the short cancer type code from the study id ("gbm_tcga" -> "GBM").
func (p Patient) CancerTypeCode() string {
	code, _, _ := strings.Cut(p.StudyID, "_")
	return strings.ToUpper(code)
}

// SampleIDs returns the ids of the patient's samples in order.
func (p Patient) SampleIDs() []string {
	ids := make([]string, len(p.Samples))
	for i, s := range p.Samples {
		ids[i] = s.ID
	}
	return ids
}

// DemoPatient returns the static demo patient with a primary and a recurrent sample.
func DemoPatient() Patient {
	return Patient{
		ID:            "TCGA-02-0001",
		StudyID:       "gbm_tcga",
		CancerType:    "Glioblastoma Multiforme",
		Age:           59,
		Sex:           "Male",
		MutationCount: 42,
		Samples: []Sample{
			{ID: "TCGA-02-0001-01", Type: "Primary Solid Tumor"},
			{ID: "TCGA-02-0001-02", Type: "Recurrent Solid Tumor"},
		},
	}
}

// GeneProfile is the alteration profile of one gene in one sample. Profiles are regenerated on every
// generator run; their only identity is the (sample id, symbol) pair.
type GeneProfile struct {
	Symbol            string   `json:"symbol"`
	ZScore            float64  `json:"zScore"`
	Mutation          string   `json:"mutation,omitempty"`
	CNA               CNAState `json:"cna,omitempty"`
	StructuralVariant string   `json:"structuralVariant,omitempty"`
}

// ExpressionLevel classifies the z-score as "high", "low" or "normal".
func (g GeneProfile) ExpressionLevel() string {
	return ExpressionLevel(g.ZScore)
}

// ExpressionLevel classifies a z-score as "high", "low" or "normal".
func ExpressionLevel(z float64) string {
	switch {
	case z > HighExpressionThreshold:
		return "high"
	case z < LowExpressionThreshold:
		return "low"
	default:
		return "normal"
	}
}

// ClampZScore limits z to [MinZScore, MaxZScore].
func ClampZScore(z float64) float64 {
	if z < MinZScore {
		return MinZScore
	}
	if z > MaxZScore {
		return MaxZScore
	}
	return z
}

// SampleProfileRef pairs a patient sample with its profile for a single gene.
type SampleProfileRef struct {
	Sample  Sample      `json:"sample"`
	Profile GeneProfile `json:"profile"`
}

// CohortSample is one point of the cohort comparison for a gene.
type CohortSample struct {
	SampleID         string  `json:"sampleId"`
	SampleType       string  `json:"sampleType,omitempty"`
	Expression       float64 `json:"expression"`
	IsCurrentPatient bool    `json:"isCurrentPatient"`
}

// GTExData is the normal-tissue reference expression of a gene in one tissue.
type GTExData struct {
	Tissue     string  `json:"tissue"`
	Expression float64 `json:"expression"`
	StdDev     float64 `json:"stdDev"`
}

// SampleContext is the per-sample alteration context handed to the insight client.
type SampleContext struct {
	SampleID          string   `json:"sampleId"`
	SampleType        string   `json:"sampleType"`
	ZScore            float64  `json:"zScore"`
	Mutation          string   `json:"mutation,omitempty"`
	CNA               CNAState `json:"cna,omitempty"`
	StructuralVariant string   `json:"structuralVariant,omitempty"`
}

// InsightRequest carries everything the insight prompt is assembled from.
type InsightRequest struct {
	GeneSymbol          string          `json:"geneSymbol"`
	CancerType          string          `json:"cancerType"`
	Samples             []SampleContext `json:"samples"`
	NormalTissueContext string          `json:"normalTissueContext,omitempty"`
}

// AIAnalysisResult is the narrative summary returned for a gene.
type AIAnalysisResult struct {
	Summary                 string `json:"summary"`
	TherapeuticImplications string `json:"therapeuticImplications"`
	PrognosticValue         string `json:"prognosticValue"`
}

// Complete reports whether all three fields carry text.
func (r AIAnalysisResult) Complete() bool {
	return strings.TrimSpace(r.Summary) != "" &&
		strings.TrimSpace(r.TherapeuticImplications) != "" &&
		strings.TrimSpace(r.PrognosticValue) != ""
}

// PlaceholderInsight is substituted whenever an insight cannot be retrieved.
func PlaceholderInsight() AIAnalysisResult {
	return AIAnalysisResult{
		Summary:                 "Unable to retrieve AI analysis at this time.",
		TherapeuticImplications: "N/A",
		PrognosticValue:         "N/A",
	}
}
