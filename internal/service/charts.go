package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/synth"
)

// Chart colours.
const (
	HighlightColor = "#ef4444"
	TissueColor    = "#cbd5e1"
	ReferenceColor = "#cbd5e1"
	ZeroLineColor  = "#94a3b8"
)

// Point radii of the strip plot.
const (
	PatientPointRadius = 8
	CohortPointRadius  = 4
)

// ChartPoint is one sample of the strip plot.
type ChartPoint struct {
	Index            int     `json:"index"`
	SampleID         string  `json:"sampleId"`
	SampleType       string  `json:"sampleType,omitempty"`
	Expression       float64 `json:"expression"`
	IsCurrentPatient bool    `json:"isCurrentPatient"`
	Color            string  `json:"color"`
	Radius           int     `json:"radius"`
}

// ReferenceLine is a horizontal guide of the strip plot.
type ReferenceLine struct {
	Label  string  `json:"label,omitempty"`
	Value  float64 `json:"value"`
	Color  string  `json:"color"`
	Dashed bool    `json:"dashed"`
}

// LegendEntry is one legend item of the strip plot.
type LegendEntry struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// PatientMarker summarizes where a patient sample falls within the cohort.
type PatientMarker struct {
	SampleID   string  `json:"sampleId"`
	Label      string  `json:"label"`
	Color      string  `json:"color"`
	Expression float64 `json:"expression"`
	Display    string  `json:"display"`
	Percentile float64 `json:"percentile"`
}

// PercentileDisplay renders the percentile as "42.5th".
func (m PatientMarker) PercentileDisplay() string {
	return fmt.Sprintf("%.1fth", m.Percentile)
}

// ExpressionChart is the view-model of the cohort strip plot.
type ExpressionChart struct {
	Gene           string          `json:"gene"`
	Points         []ChartPoint    `json:"points"`
	ReferenceLines []ReferenceLine `json:"referenceLines"`
	Legend         []LegendEntry   `json:"legend"`
	Patients       []PatientMarker `json:"patients"`
	YMin           float64         `json:"yMin"`
	YMax           float64         `json:"yMax"`
}

// BuildExpressionChart sorts the cohort by expression, colours patient samples from the palette and
// computes each patient sample's cohort percentile.
func BuildExpressionChart(gene string, cohort []domain.CohortSample) ExpressionChart {
	sorted := append([]domain.CohortSample(nil), cohort...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Expression < sorted[j].Expression
	})

	var patientIDs []string
	for _, s := range cohort {
		if s.IsCurrentPatient {
			patientIDs = append(patientIDs, s.SampleID)
		}
	}
	colors := SampleColors(patientIDs)

	chart := ExpressionChart{
		Gene:   gene,
		Points: make([]ChartPoint, len(sorted)),
		ReferenceLines: []ReferenceLine{
			{Label: "+2 SD", Value: 2, Color: ReferenceColor, Dashed: true},
			{Label: "-2 SD", Value: -2, Color: ReferenceColor, Dashed: true},
			{Value: 0, Color: ZeroLineColor},
		},
		Legend: []LegendEntry{{Label: "Cohort", Color: CohortColor}},
		YMin:   -2.5,
		YMax:   2.5,
	}

	for i, s := range sorted {
		point := ChartPoint{
			Index:            i,
			SampleID:         s.SampleID,
			SampleType:       s.SampleType,
			Expression:       s.Expression,
			IsCurrentPatient: s.IsCurrentPatient,
			Color:            CohortColor,
			Radius:           CohortPointRadius,
		}
		if s.IsCurrentPatient {
			point.Color = colors[s.SampleID]
			point.Radius = PatientPointRadius
		}
		chart.Points[i] = point
		chart.YMin = math.Min(chart.YMin, s.Expression)
		chart.YMax = math.Max(chart.YMax, s.Expression)
	}
	chart.YMin = math.Floor(chart.YMin)
	chart.YMax = math.Ceil(chart.YMax)

	patients := make([]domain.CohortSample, 0, len(patientIDs))
	for _, s := range cohort {
		if s.IsCurrentPatient {
			patients = append(patients, s)
		}
	}
	sort.SliceStable(patients, func(i, j int) bool {
		return patients[i].SampleID < patients[j].SampleID
	})
	for _, p := range patients {
		label := p.SampleType
		if label == "" {
			label = p.SampleID
		}
		chart.Legend = append(chart.Legend, LegendEntry{Label: label, Color: colors[p.SampleID]})
		chart.Patients = append(chart.Patients, PatientMarker{
			SampleID:   p.SampleID,
			Label:      label,
			Color:      colors[p.SampleID],
			Expression: p.Expression,
			Display:    FormatZScore(p.Expression),
			Percentile: CohortPercentile(cohort, p.Expression),
		})
	}
	return chart
}

// CohortPercentile returns the share of the cohort strictly below value, ×100, rounded to one decimal.
func CohortPercentile(cohort []domain.CohortSample, value float64) float64 {
	if len(cohort) == 0 {
		return 0
	}
	below := 0
	for _, s := range cohort {
		if s.Expression < value {
			below++
		}
	}
	pct := float64(below) / float64(len(cohort)) * 100
	return math.Round(pct*10) / 10
}

// TissueBar is one bar of the normal-tissue chart.
type TissueBar struct {
	Tissue       string  `json:"tissue"`
	Expression   float64 `json:"expression"`
	StdDev       float64 `json:"stdDev"`
	Highlighted  bool    `json:"highlighted"`
	Color        string  `json:"color"`
	WidthPercent float64 `json:"widthPercent"`
}

// TissueChart is the view-model of the normal-tissue bar chart.
type TissueChart struct {
	Gene            string      `json:"gene"`
	Bars            []TissueBar `json:"bars"`
	HighlightTissue string      `json:"highlightTissue,omitempty"`
	Source          string      `json:"source"`
}

// BuildTissueChart sorts tissues by expression, highest first, and highlights the tumour-site tissue
// derived from cancerType.
func BuildTissueChart(gene string, tissues []domain.GTExData, cancerType string) TissueChart {
	sorted := append([]domain.GTExData(nil), tissues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Expression > sorted[j].Expression
	})

	chart := TissueChart{
		Gene:            gene,
		Bars:            make([]TissueBar, len(sorted)),
		HighlightTissue: TumorSiteTissue(cancerType),
		Source:          "GTEx V8 Release",
	}

	var peak float64
	if len(sorted) > 0 {
		peak = sorted[0].Expression
	}
	for i, t := range sorted {
		bar := TissueBar{
			Tissue:     t.Tissue,
			Expression: t.Expression,
			StdDev:     t.StdDev,
			Color:      TissueColor,
		}
		if chart.HighlightTissue != "" && t.Tissue == chart.HighlightTissue {
			bar.Highlighted = true
			bar.Color = HighlightColor
		}
		if peak > 0 {
			bar.WidthPercent = math.Round(t.Expression/peak*1000) / 10
		}
		chart.Bars[i] = bar
	}
	return chart
}

// TumorSiteTissue derives the tissue of the patient's tumour from a cancer-type description, or ""
// when no keyword matches.
func TumorSiteTissue(cancerType string) string {
	return synth.DefaultPanel().TumorSite(cancerType)
}
