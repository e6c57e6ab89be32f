package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/url"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/service"
)

// PageTemplate is the name of the portal page template.
const PageTemplate = "portal.html"

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Page is the data the portal page template renders.
type Page struct {
	service.PortalView
	ExpressionSVG template.HTML
	ChartError    string
}

// NewPage renders the strip plot of view and wraps both for the page template. A chart failure does
// not fail the page; the chart area shows the error instead.
func NewPage(view service.PortalView) Page {
	page := Page{PortalView: view}
	if svg, err := ExpressionSVG(view.Expression); err != nil {
		page.ChartError = err.Error()
	} else {
		page.ExpressionSVG = svg
	}
	return page
}

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	tmpl, err := template.New("portal").Funcs(FuncMap()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page templates: %w", err)
	}
	return tmpl, nil
}

// RenderPage writes the full portal page for view.
func RenderPage(w io.Writer, tmpl *template.Template, view service.PortalView) error {
	return tmpl.ExecuteTemplate(w, PageTemplate, NewPage(view))
}

// Static returns the embedded static assets (script and stylesheet).
func Static() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// FuncMap returns the template helpers used by the portal page.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"zclass":    ZScoreClass,
		"formatZ":   service.FormatZScore,
		"geneLink":  GeneLink,
		"sortLink":  SortLink,
		"sortArrow": SortArrow,
		"tabLink":   TabLink,
		"scopeLink": ScopeLink,
		"cnaClass":  CNAClass,
		"barStyle":  BarStyle,
		"dotStyle":  DotStyle,
		"colspan": func(t service.GeneTable) int {
			return len(t.Columns) + 1
		},
	}
}

// ZScoreClass returns the CSS class colouring a z-score: red above the high threshold, blue below the
// low threshold.
func ZScoreClass(z float64) string {
	switch domain.ExpressionLevel(z) {
	case "high":
		return "z-high"
	case "low":
		return "z-low"
	default:
		return "z-normal"
	}
}

// CNAClass returns the badge class of a copy-number state.
func CNAClass(state domain.CNAState) string {
	switch {
	case state.IsGain():
		return "badge badge-gain"
	case state.IsLoss():
		return "badge badge-loss"
	default:
		return "badge"
	}
}

// GeneLink selects gene.
func GeneLink(gene string) string {
	return "/?" + url.Values{"gene": {gene}}.Encode()
}

// SortLink clicks the header of the given table column.
func SortLink(field string) string {
	return "/?" + url.Values{"sort": {field}}.Encode()
}

// SortArrow marks the active sort column.
func SortArrow(q service.GeneTableQuery, field string) string {
	if q.SortField != field {
		return ""
	}
	if q.Direction == service.Ascending {
		return "▲"
	}
	return "▼"
}

// TabLink switches the patient view tab.
func TabLink(tab domain.Tab) string {
	return "/?" + url.Values{"tab": {string(tab)}}.Encode()
}

// ScopeLink switches the cohort scope.
func ScopeLink(scope domain.CohortScope) string {
	return "/?" + url.Values{"scope": {string(scope)}}.Encode()
}

// BarStyle is the inline style of one normal-tissue bar.
func BarStyle(bar service.TissueBar) template.CSS {
	return template.CSS(fmt.Sprintf("width: %.1f%%; background: %s;", bar.WidthPercent, bar.Color))
}

// DotStyle is the inline style of a sample colour swatch.
func DotStyle(color string) template.CSS {
	return template.CSS(fmt.Sprintf("background: %s;", color))
}
