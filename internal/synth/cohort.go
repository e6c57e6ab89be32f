package synth

import (
	"fmt"

	"github.com/expression-portal-server/internal/domain"
)

// CohortSynthesizer builds the background population a gene's patient samples are compared with.
type CohortSynthesizer struct {
	panel *Panel
	rnd   RandomSource
}

// NewCohortSynthesizer creates a new cohort synthesizer
func NewCohortSynthesizer(panel *Panel, rnd RandomSource) *CohortSynthesizer {
	if panel == nil {
		panel = DefaultPanel()
	}
	if rnd == nil {
		rnd = NewSharedSource()
	}
	return &CohortSynthesizer{panel: panel, rnd: rnd}
}

// Synthesize returns the background cohort for gene followed by the patient's own samples.
// Pan-cancer scope draws 200 samples labelled with random cancer-type codes; cancer-type scope draws
// 60 samples of the patient's type with a 0.9 scaled spread.
func (c *CohortSynthesizer) Synthesize(gene string, scope domain.CohortScope, patient []domain.SampleProfileRef, cancerTypeCode string) []domain.CohortSample {
	rules := c.panel.Cohort
	size := scope.BackgroundSize()
	codes := c.labelCodes(cancerTypeCode)

	cohort := make([]domain.CohortSample, 0, size+len(patient))
	for i := 0; i < size; i++ {
		z := StandardNormal(c.rnd)
		label := cancerTypeCode
		if scope == domain.ScopeCancerType {
			z *= rules.SameTypeScale
		} else if len(codes) > 0 {
			label = codes[int(c.rnd.Float64()*float64(len(codes)))%len(codes)]
		}
		cohort = append(cohort, domain.CohortSample{
			SampleID:   fmt.Sprintf("%s%d", rules.BackgroundIDPrefix, rules.BackgroundIDOffset+i),
			SampleType: label,
			Expression: z,
		})
	}

	for _, ref := range patient {
		cohort = append(cohort, domain.CohortSample{
			SampleID:         ref.Sample.ID,
			SampleType:       ref.Sample.Type,
			Expression:       ref.Profile.ZScore,
			IsCurrentPatient: true,
		})
	}
	return cohort
}

// labelCodes returns the pan-cancer codes with the patient's code included exactly once.
func (c *CohortSynthesizer) labelCodes(patientCode string) []string {
	codes := append([]string(nil), c.panel.Cohort.PanCancerCodes...)
	if patientCode == "" {
		return codes
	}
	for _, code := range codes {
		if code == patientCode {
			return codes
		}
	}
	return append(codes, patientCode)
}
