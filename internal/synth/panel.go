// Package synth generates the synthetic genomic data shown by the portal: per-sample gene
// alteration profiles, background cohorts and normal-tissue reference expression.
//
// Nothing here is sourced from a biological database. The generators encode a fixed
// "primary vs. recurrent glioblastoma" narrative on top of pseudo-random distributions, driven by
// the static tables in panel.yaml and an injectable RandomSource.
package synth

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/expression-portal-server/internal/domain"
)

//go:embed panel.yaml
var defaultPanelYAML []byte

// MarkerOverride pins the profile of a marker gene in one scenario.
type MarkerOverride struct {
	Symbol            string          `yaml:"symbol"`
	ZMin              float64         `yaml:"z_min"`
	ZMax              float64         `yaml:"z_max"`
	CNA               domain.CNAState `yaml:"cna"`
	Mutation          string          `yaml:"mutation"`
	StructuralVariant string          `yaml:"structural_variant"`
}

// BackgroundRules describes how non-marker genes are drawn.
type BackgroundRules struct {
	ZMin            float64 `yaml:"z_min"`
	ZMax            float64 `yaml:"z_max"`
	AmpProbability  float64 `yaml:"amp_probability"`
	AmpShift        float64 `yaml:"amp_shift"`
	LossProbability float64 `yaml:"loss_probability"`
	LossShift       float64 `yaml:"loss_shift"`
}

// Scenarios holds the marker tables of both tumour states.
type Scenarios struct {
	Primary   []MarkerOverride `yaml:"primary"`
	Recurrent []MarkerOverride `yaml:"recurrent"`
}

// CohortRules configures the background cohort.
type CohortRules struct {
	BackgroundIDPrefix string   `yaml:"background_id_prefix"`
	BackgroundIDOffset int      `yaml:"background_id_offset"`
	SameTypeScale      float64  `yaml:"same_type_scale"`
	PanCancerCodes     []string `yaml:"pancancer_codes"`
}

// TissueOverride fixes the normal-tissue expression of a gene. Either Levels names specific
// tissues, or Ubiquitous sets a level for every tissue (spread by Spread TPM).
type TissueOverride struct {
	Levels     map[string]float64 `yaml:"levels"`
	Ubiquitous float64            `yaml:"ubiquitous"`
	Spread     float64            `yaml:"spread"`
}

// TissueRules configures the normal-tissue synthesizer.
type TissueRules struct {
	Names          []string                  `yaml:"names"`
	BaselineMin    float64                   `yaml:"baseline_min"`
	BaselineMax    float64                   `yaml:"baseline_max"`
	StdMinFraction float64                   `yaml:"std_min_fraction"`
	StdMaxFraction float64                   `yaml:"std_max_fraction"`
	Jitter         float64                   `yaml:"jitter"`
	Overrides      map[string]TissueOverride `yaml:"overrides"`
}

// TumorSite maps cancer-type keywords to a GTEx tissue.
type TumorSite struct {
	Tissue   string   `yaml:"tissue"`
	Keywords []string `yaml:"keywords"`
}

// Panel is the static lookup configuration shared by all generators.
type Panel struct {
	RecurrentSuffix string          `yaml:"recurrent_suffix"`
	Genes           []string        `yaml:"genes"`
	Background      BackgroundRules `yaml:"background"`
	Scenarios       Scenarios       `yaml:"scenarios"`
	Cohort          CohortRules     `yaml:"cohort"`
	Tissues         TissueRules     `yaml:"tissues"`
	TumorSites      []TumorSite     `yaml:"tumor_sites"`

	geneIndex map[string]int
}

var (
	defaultPanel     *Panel
	defaultPanelOnce sync.Once
)

// DefaultPanel returns the embedded panel configuration.
func DefaultPanel() *Panel {
	defaultPanelOnce.Do(func() {
		p, err := LoadPanel(defaultPanelYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded panel.yaml is invalid: %v", err))
		}
		defaultPanel = p
	})
	return defaultPanel
}

// LoadPanel parses and validates a panel configuration.
func LoadPanel(data []byte) (*Panel, error) {
	var p Panel
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse panel: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.geneIndex = make(map[string]int, len(p.Genes))
	for i, g := range p.Genes {
		p.geneIndex[g] = i
	}
	return &p, nil
}

func (p *Panel) validate() error {
	if len(p.Genes) == 0 {
		return fmt.Errorf("panel has no genes")
	}
	if p.RecurrentSuffix == "" {
		return fmt.Errorf("panel has no recurrent suffix")
	}
	seen := make(map[string]bool, len(p.Genes))
	for _, g := range p.Genes {
		if seen[g] {
			return fmt.Errorf("duplicate gene %s", g)
		}
		seen[g] = true
	}
	for _, table := range [][]MarkerOverride{p.Scenarios.Primary, p.Scenarios.Recurrent} {
		for _, m := range table {
			if !seen[m.Symbol] {
				return fmt.Errorf("marker %s is not in the gene panel", m.Symbol)
			}
			if m.ZMin > m.ZMax {
				return fmt.Errorf("marker %s has z_min > z_max", m.Symbol)
			}
			if m.CNA != "" && !m.CNA.IsValid() {
				return fmt.Errorf("marker %s: %w: %s", m.Symbol, domain.ErrInvalidCNAState, m.CNA)
			}
		}
	}
	if len(p.Tissues.Names) == 0 {
		return fmt.Errorf("panel has no tissues")
	}
	if p.Tissues.BaselineMin > p.Tissues.BaselineMax {
		return fmt.Errorf("tissue baseline_min > baseline_max")
	}
	return nil
}

// HasGene reports whether symbol is part of the panel.
func (p *Panel) HasGene(symbol string) bool {
	_, ok := p.geneIndex[symbol]
	return ok
}

// CanonicalGene resolves a symbol case-insensitively to its panel spelling.
func (p *Panel) CanonicalGene(symbol string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	if p.HasGene(upper) {
		return upper, nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrUnknownGene, symbol)
}

// IsRecurrent reports whether the sample id carries the recurrent-tumour marker.
func (p *Panel) IsRecurrent(sampleID string) bool {
	return strings.HasSuffix(sampleID, p.RecurrentSuffix)
}

// Markers returns the marker table for the sample's scenario, keyed by symbol.
func (p *Panel) Markers(sampleID string) map[string]MarkerOverride {
	table := p.Scenarios.Primary
	if p.IsRecurrent(sampleID) {
		table = p.Scenarios.Recurrent
	}
	markers := make(map[string]MarkerOverride, len(table))
	for _, m := range table {
		markers[m.Symbol] = m
	}
	return markers
}

// TumorSite derives the GTEx tissue of a tumour from its cancer-type description.
// It returns "" when no keyword matches.
func (p *Panel) TumorSite(cancerType string) string {
	lower := strings.ToLower(cancerType)
	for _, site := range p.TumorSites {
		for _, kw := range site.Keywords {
			if strings.Contains(lower, kw) {
				return site.Tissue
			}
		}
	}
	return ""
}
