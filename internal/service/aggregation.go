package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/expression-portal-server/internal/domain"
)

// SamplePalette is the overlay palette for patient samples, assigned in sample id order.
var SamplePalette = []string{"#ef4444", "#3b82f6", "#10b981", "#f59e0b"}

// CohortColor is the fill of background cohort points.
const CohortColor = "#e2e8f0"

// SampleProfiles maps a sample id to the profiles generated for it, in panel order.
type SampleProfiles map[string][]domain.GeneProfile

// Lookup returns the profile of gene in the given sample.
func (sp SampleProfiles) Lookup(sampleID, gene string) (domain.GeneProfile, bool) {
	for _, p := range sp[sampleID] {
		if p.Symbol == gene {
			return p, true
		}
	}
	return domain.GeneProfile{}, false
}

// SampleGeneView flattens one patient sample with the selected gene's profile.
type SampleGeneView struct {
	SampleID   string             `json:"sampleId"`
	SampleType string             `json:"sampleType"`
	Color      string             `json:"color"`
	Profile    domain.GeneProfile `json:"profile"`
}

// Label returns the display label of the sample (its type, or its id when untyped).
func (v SampleGeneView) Label() string {
	if v.SampleType != "" {
		return v.SampleType
	}
	return v.SampleID
}

// GeneMatrix is the gene → {sample id → profile} map across the panel.
type GeneMatrix struct {
	Genes    []string                                 `json:"genes"`
	Profiles map[string]map[string]domain.GeneProfile `json:"profiles"`
}

// ZScore returns the z-score of gene in sampleID, or 0 when the cell is empty.
func (m GeneMatrix) ZScore(gene, sampleID string) float64 {
	return m.Profiles[gene][sampleID].ZScore
}

// Cell returns the profile of gene in sampleID.
func (m GeneMatrix) Cell(gene, sampleID string) (domain.GeneProfile, bool) {
	p, ok := m.Profiles[gene][sampleID]
	return p, ok
}

// SampleColors assigns palette colours to sample ids sorted lexically, wrapping around the palette.
func SampleColors(sampleIDs []string) map[string]string {
	sorted := append([]string(nil), sampleIDs...)
	sort.Strings(sorted)

	colors := make(map[string]string, len(sorted))
	for i, id := range sorted {
		colors[id] = SamplePalette[i%len(SamplePalette)]
	}
	return colors
}

// BuildSampleViews combines every sample that has a profile for gene with that profile.
// Samples keep patient order.
func BuildSampleViews(samples []domain.Sample, profiles SampleProfiles, gene string) []SampleGeneView {
	ids := make([]string, len(samples))
	for i, s := range samples {
		ids[i] = s.ID
	}
	colors := SampleColors(ids)

	views := make([]SampleGeneView, 0, len(samples))
	for _, s := range samples {
		profile, ok := profiles.Lookup(s.ID, gene)
		if !ok {
			continue
		}
		views = append(views, SampleGeneView{
			SampleID:   s.ID,
			SampleType: s.Type,
			Color:      colors[s.ID],
			Profile:    profile,
		})
	}
	return views
}

// BuildGeneMatrix folds per-sample profiles into a gene-major matrix. Gene order follows the first
// sample's panel order, with genes seen only in later samples appended.
func BuildGeneMatrix(samples []domain.Sample, profiles SampleProfiles) GeneMatrix {
	matrix := GeneMatrix{Profiles: make(map[string]map[string]domain.GeneProfile)}

	for _, s := range samples {
		for _, p := range profiles[s.ID] {
			row, ok := matrix.Profiles[p.Symbol]
			if !ok {
				row = make(map[string]domain.GeneProfile, len(samples))
				matrix.Profiles[p.Symbol] = row
				matrix.Genes = append(matrix.Genes, p.Symbol)
			}
			row[s.ID] = p
		}
	}
	return matrix
}

// PatientRefs pairs each sample view with its profile for the cohort synthesizer.
func PatientRefs(views []SampleGeneView) []domain.SampleProfileRef {
	refs := make([]domain.SampleProfileRef, len(views))
	for i, v := range views {
		refs[i] = domain.SampleProfileRef{
			Sample:  domain.Sample{ID: v.SampleID, Type: v.SampleType},
			Profile: v.Profile,
		}
	}
	return refs
}

// SampleContexts extracts the alteration context handed to the insight client.
func SampleContexts(views []SampleGeneView) []domain.SampleContext {
	contexts := make([]domain.SampleContext, len(views))
	for i, v := range views {
		contexts[i] = domain.SampleContext{
			SampleID:          v.SampleID,
			SampleType:        v.SampleType,
			ZScore:            v.Profile.ZScore,
			Mutation:          v.Profile.Mutation,
			CNA:               v.Profile.CNA,
			StructuralVariant: v.Profile.StructuralVariant,
		}
	}
	return contexts
}

// NormalTissueSummary describes the gene's normal-tissue profile for the insight prompt: the three
// highest tissues and, when known, the tumour-site tissue. It returns "" for empty input.
func NormalTissueSummary(gene string, tissues []domain.GTExData, highlight string) string {
	if len(tissues) == 0 {
		return ""
	}
	sorted := append([]domain.GTExData(nil), tissues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Expression > sorted[j].Expression
	})

	top := sorted
	if len(top) > 3 {
		top = top[:3]
	}
	parts := make([]string, len(top))
	for i, t := range top {
		parts[i] = fmt.Sprintf("%s (%.1f TPM)", t.Tissue, t.Expression)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "In GTEx normal tissues %s is most expressed in %s.", gene, strings.Join(parts, ", "))
	if highlight != "" {
		for _, t := range sorted {
			if t.Tissue == highlight {
				fmt.Fprintf(&b, " Normal %s tissue (tumor site) shows %.1f TPM.", strings.ToLower(t.Tissue), t.Expression)
				break
			}
		}
	}
	return b.String()
}
