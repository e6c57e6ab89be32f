package synth

import (
	"github.com/expression-portal-server/internal/domain"
)

// ProfileGenerator produces per-sample gene alteration profiles for the panel.
type ProfileGenerator struct {
	panel *Panel
	rnd   RandomSource
}

// NewProfileGenerator creates a new profile generator
func NewProfileGenerator(panel *Panel, rnd RandomSource) *ProfileGenerator {
	if panel == nil {
		panel = DefaultPanel()
	}
	if rnd == nil {
		rnd = NewSharedSource()
	}
	return &ProfileGenerator{panel: panel, rnd: rnd}
}

// Generate returns one profile per panel gene, in panel order. Marker genes follow the primary or
// recurrent scenario selected by the sample id; the remaining genes are drawn at random. Two calls
// with the same id are not expected to agree.
func (g *ProfileGenerator) Generate(sampleID string) []domain.GeneProfile {
	markers := g.panel.Markers(sampleID)
	profiles := make([]domain.GeneProfile, 0, len(g.panel.Genes))

	for _, symbol := range g.panel.Genes {
		if m, ok := markers[symbol]; ok {
			profiles = append(profiles, g.marker(m))
			continue
		}
		profiles = append(profiles, g.background(symbol))
	}
	return profiles
}

func (g *ProfileGenerator) marker(m MarkerOverride) domain.GeneProfile {
	cna := m.CNA
	if cna == "" {
		cna = domain.DIPLOID
	}
	return domain.GeneProfile{
		Symbol:            m.Symbol,
		ZScore:            domain.ClampZScore(uniform(g.rnd, m.ZMin, m.ZMax)),
		Mutation:          m.Mutation,
		CNA:               cna,
		StructuralVariant: m.StructuralVariant,
	}
}

func (g *ProfileGenerator) background(symbol string) domain.GeneProfile {
	rules := g.panel.Background
	z := uniform(g.rnd, rules.ZMin, rules.ZMax)
	cna := domain.DIPLOID

	switch p := g.rnd.Float64(); {
	case p < rules.AmpProbability:
		cna = domain.AMP
		z += rules.AmpShift
	case p < rules.AmpProbability+rules.LossProbability:
		cna = domain.HETLOSS
		z += rules.LossShift
	}

	return domain.GeneProfile{
		Symbol: symbol,
		ZScore: domain.ClampZScore(z),
		CNA:    cna,
	}
}
