package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expression-portal-server/internal/domain"
)

func testSamples() []domain.Sample {
	return domain.DemoPatient().Samples
}

func testProfiles() SampleProfiles {
	return SampleProfiles{
		"TCGA-02-0001-01": {
			{Symbol: "EGFR", ZScore: 3.1, CNA: domain.AMP, Mutation: "A289V", StructuralVariant: "EGFRvIII (exon 2-7 deletion)"},
			{Symbol: "TP53", ZScore: -0.4, CNA: domain.DIPLOID},
			{Symbol: "MET", ZScore: 0.1, CNA: domain.DIPLOID},
		},
		"TCGA-02-0001-02": {
			{Symbol: "EGFR", ZScore: 1.0, CNA: domain.GAIN, Mutation: "A289V"},
			{Symbol: "TP53", ZScore: 0.7, CNA: domain.DIPLOID},
			{Symbol: "MET", ZScore: 3.3, CNA: domain.AMP, StructuralVariant: "PTPRZ1-MET fusion"},
		},
	}
}

func TestSampleColors(t *testing.T) {
	colors := SampleColors([]string{"S-3", "S-1", "S-2", "S-5", "S-4"})

	assert.Equal(t, "#ef4444", colors["S-1"])
	assert.Equal(t, "#3b82f6", colors["S-2"])
	assert.Equal(t, "#10b981", colors["S-3"])
	assert.Equal(t, "#f59e0b", colors["S-4"])
	assert.Equal(t, "#ef4444", colors["S-5"], "palette wraps around")
}

func TestBuildSampleViews(t *testing.T) {
	views := BuildSampleViews(testSamples(), testProfiles(), "MET")
	require.Len(t, views, 2)

	assert.Equal(t, "TCGA-02-0001-01", views[0].SampleID)
	assert.Equal(t, "Primary Solid Tumor", views[0].Label())
	assert.Equal(t, "#ef4444", views[0].Color)
	assert.Equal(t, 0.1, views[0].Profile.ZScore)

	assert.Equal(t, "#3b82f6", views[1].Color)
	assert.Equal(t, domain.AMP, views[1].Profile.CNA)
	assert.Equal(t, "PTPRZ1-MET fusion", views[1].Profile.StructuralVariant)
}

func TestBuildSampleViews_SkipsSamplesWithoutGene(t *testing.T) {
	profiles := testProfiles()
	delete(profiles, "TCGA-02-0001-02")

	views := BuildSampleViews(testSamples(), profiles, "EGFR")
	require.Len(t, views, 1)
	assert.Equal(t, "TCGA-02-0001-01", views[0].SampleID)

	assert.Empty(t, BuildSampleViews(testSamples(), testProfiles(), "KRAS"))
}

func TestSampleGeneViewLabel(t *testing.T) {
	assert.Equal(t, "S-1", SampleGeneView{SampleID: "S-1"}.Label())
	assert.Equal(t, "Metastasis", SampleGeneView{SampleID: "S-1", SampleType: "Metastasis"}.Label())
}

func TestBuildGeneMatrix(t *testing.T) {
	matrix := BuildGeneMatrix(testSamples(), testProfiles())

	assert.Equal(t, []string{"EGFR", "TP53", "MET"}, matrix.Genes)
	assert.Equal(t, 3.1, matrix.ZScore("EGFR", "TCGA-02-0001-01"))
	assert.Equal(t, 3.3, matrix.ZScore("MET", "TCGA-02-0001-02"))

	_, ok := matrix.Cell("KRAS", "TCGA-02-0001-01")
	assert.False(t, ok)
	assert.Zero(t, matrix.ZScore("KRAS", "TCGA-02-0001-01"))
}

func TestSampleContexts(t *testing.T) {
	contexts := SampleContexts(BuildSampleViews(testSamples(), testProfiles(), "EGFR"))
	require.Len(t, contexts, 2)

	assert.Equal(t, domain.SampleContext{
		SampleID:          "TCGA-02-0001-01",
		SampleType:        "Primary Solid Tumor",
		ZScore:            3.1,
		Mutation:          "A289V",
		CNA:               domain.AMP,
		StructuralVariant: "EGFRvIII (exon 2-7 deletion)",
	}, contexts[0])
	assert.Equal(t, domain.GAIN, contexts[1].CNA)
}

func TestPatientRefs(t *testing.T) {
	refs := PatientRefs(BuildSampleViews(testSamples(), testProfiles(), "TP53"))
	require.Len(t, refs, 2)
	assert.Equal(t, "Recurrent Solid Tumor", refs[1].Sample.Type)
	assert.Equal(t, 0.7, refs[1].Profile.ZScore)
}

func TestNormalTissueSummary(t *testing.T) {
	tissues := []domain.GTExData{
		{Tissue: "Brain", Expression: 9.2},
		{Tissue: "Liver", Expression: 45.0},
		{Tissue: "Skin", Expression: 85.3},
		{Tissue: "Lung", Expression: 32.1},
	}

	summary := NormalTissueSummary("EGFR", tissues, "Brain")
	assert.Equal(t,
		"In GTEx normal tissues EGFR is most expressed in Skin (85.3 TPM), Liver (45.0 TPM), Lung (32.1 TPM). Normal brain tissue (tumor site) shows 9.2 TPM.",
		summary)

	assert.NotContains(t, NormalTissueSummary("EGFR", tissues, ""), "tumor site")
	assert.Empty(t, NormalTissueSummary("EGFR", nil, "Brain"))
}
