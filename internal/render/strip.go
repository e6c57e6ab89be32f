// Package render turns portal view-models into HTML and SVG.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/expression-portal-server/internal/service"
)

// Strip plot dimensions in pixels.
const (
	StripWidth  = 720
	StripHeight = 340
)

// RenderExpressionSVG draws the cohort strip plot: background samples in grey, patient samples on top
// in their overlay colours, with the ±2 SD and zero guides.
func RenderExpressionSVG(w io.Writer, c service.ExpressionChart) error {
	if len(c.Points) == 0 {
		return fmt.Errorf("no cohort points for %s", c.Gene)
	}

	xMax := float64(len(c.Points) - 1)
	if xMax < 1 {
		xMax = 1
	}

	series := make([]chart.Series, 0, len(c.ReferenceLines)+len(c.Patients)+1)
	for _, line := range c.ReferenceLines {
		series = append(series, guideSeries(line, xMax))
	}

	var xs, ys []float64
	patientPoints := make(map[string]service.ChartPoint)
	for _, p := range c.Points {
		if p.IsCurrentPatient {
			patientPoints[p.SampleID] = p
			continue
		}
		xs = append(xs, float64(p.Index))
		ys = append(ys, p.Expression)
	}
	if len(xs) > 0 {
		series = append(series, chart.ContinuousSeries{
			Name:    "Cohort",
			XValues: xs,
			YValues: ys,
			Style:   pointStyle(service.CohortColor, service.CohortPointRadius),
		})
	}

	// Patient samples are drawn last so they stay visible above the cohort.
	for _, m := range c.Patients {
		p, ok := patientPoints[m.SampleID]
		if !ok {
			continue
		}
		series = append(series, chart.ContinuousSeries{
			Name:    fmt.Sprintf("%s (%s)", m.Label, m.Display),
			XValues: []float64{float64(p.Index)},
			YValues: []float64{p.Expression},
			Style:   pointStyle(m.Color, service.PatientPointRadius),
		})
	}

	ch := chart.Chart{
		Width:      StripWidth,
		Height:     StripHeight,
		Background: chart.Style{Padding: chart.Box{Top: 20, Left: 16, Right: 16, Bottom: 56}},
		XAxis: chart.XAxis{
			Style: chart.Style{Hidden: true},
			Range: &chart.ContinuousRange{Min: -1, Max: xMax + 1},
		},
		YAxis: chart.YAxis{
			Name:  "mRNA Expression Z-Score",
			Range: &chart.ContinuousRange{Min: c.YMin, Max: c.YMax},
		},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	if err := ch.Render(chart.SVG, w); err != nil {
		return fmt.Errorf("failed to render expression chart for %s: %w", c.Gene, err)
	}
	return nil
}

// ExpressionSVG renders the strip plot for inline embedding in the portal page.
func ExpressionSVG(c service.ExpressionChart) (template.HTML, error) {
	var buf bytes.Buffer
	if err := RenderExpressionSVG(&buf, c); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// pointStyle renders points only, without connecting lines.
func pointStyle(hex string, radius int) chart.Style {
	col := color(hex)
	return chart.Style{
		StrokeWidth: chart.Disabled,
		StrokeColor: col,
		DotWidth:    float64(radius) / 2,
		DotColor:    col,
	}
}

func guideSeries(line service.ReferenceLine, xMax float64) chart.ContinuousSeries {
	style := chart.Style{
		StrokeWidth: 1,
		StrokeColor: color(line.Color),
	}
	if line.Dashed {
		style.StrokeDashArray = []float64{5.0, 5.0}
	}
	name := line.Label
	if name == "" {
		name = "Mean"
	}
	return chart.ContinuousSeries{
		Name:    name,
		XValues: []float64{-1, xMax + 1},
		YValues: []float64{line.Value, line.Value},
		Style:   style,
	}
}

func color(hex string) drawing.Color {
	return drawing.ColorFromHex(strings.TrimPrefix(hex, "#"))
}
