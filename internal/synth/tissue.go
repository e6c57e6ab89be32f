package synth

import (
	"github.com/expression-portal-server/internal/domain"
)

// TissueSynthesizer produces normal-tissue reference expression for a gene.
type TissueSynthesizer struct {
	panel *Panel
	rnd   RandomSource
}

// NewTissueSynthesizer creates a new tissue synthesizer
func NewTissueSynthesizer(panel *Panel, rnd RandomSource) *TissueSynthesizer {
	if panel == nil {
		panel = DefaultPanel()
	}
	if rnd == nil {
		rnd = NewSharedSource()
	}
	return &TissueSynthesizer{panel: panel, rnd: rnd}
}

// Synthesize returns one record per tissue in the fixed tissue order.
func (t *TissueSynthesizer) Synthesize(gene string) []domain.GTExData {
	rules := t.panel.Tissues
	override, hasOverride := rules.Overrides[gene]

	data := make([]domain.GTExData, 0, len(rules.Names))
	for _, tissue := range rules.Names {
		tpm := uniform(t.rnd, rules.BaselineMin, rules.BaselineMax)
		if hasOverride {
			if level, ok := override.Levels[tissue]; ok {
				tpm = t.jitter(level)
			} else if override.Ubiquitous > 0 {
				tpm = override.Ubiquitous + uniform(t.rnd, -override.Spread, override.Spread)
			}
		}
		if tpm < 0 {
			tpm = 0
		}
		data = append(data, domain.GTExData{
			Tissue:     tissue,
			Expression: tpm,
			StdDev:     tpm * uniform(t.rnd, rules.StdMinFraction, rules.StdMaxFraction),
		})
	}
	return data
}

func (t *TissueSynthesizer) jitter(level float64) float64 {
	j := t.panel.Tissues.Jitter
	return level * (1 + uniform(t.rnd, -j, j))
}
