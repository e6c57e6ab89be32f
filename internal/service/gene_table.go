package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/expression-portal-server/internal/domain"
)

// SortBySymbol sorts the gene table alphabetically. Any other sort field names a sample id.
const SortBySymbol = "symbol"

// EmptyTableMessage is shown when the filter leaves no rows.
const EmptyTableMessage = "No genes found"

// ErrInvalidSortDirection is returned for unknown sort directions.
var ErrInvalidSortDirection = errors.New("invalid sort direction")

// SortDirection is the ordering of a table column.
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// IsValid checks if the sort direction is valid
func (d SortDirection) IsValid() bool {
	return d == Ascending || d == Descending
}

// Flip returns the opposite direction.
func (d SortDirection) Flip() SortDirection {
	if d == Ascending {
		return Descending
	}
	return Ascending
}

// ParseSortDirection parses "asc" or "desc" case-insensitively.
func ParseSortDirection(s string) (SortDirection, error) {
	d := SortDirection(strings.ToLower(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSortDirection, s)
	}
	return d, nil
}

// defaultDirection is descending for z-score columns, where outliers come first, and ascending for
// the symbol column.
func defaultDirection(field string) SortDirection {
	if field == SortBySymbol {
		return Ascending
	}
	return Descending
}

// GeneTableQuery is the filter and sort state of the gene table.
type GeneTableQuery struct {
	Filter    string        `json:"filter"`
	SortField string        `json:"sortField"`
	Direction SortDirection `json:"direction"`
}

// DefaultGeneTableQuery sorts by the first sample's z-score, descending.
func DefaultGeneTableQuery(samples []domain.Sample) GeneTableQuery {
	if len(samples) == 0 {
		return GeneTableQuery{SortField: SortBySymbol, Direction: Ascending}
	}
	return GeneTableQuery{SortField: samples[0].ID, Direction: Descending}
}

// Toggle applies a column-header click: the active column flips direction, a new column starts at
// its default direction.
func (q GeneTableQuery) Toggle(field string) GeneTableQuery {
	if q.SortField == field {
		q.Direction = q.Direction.Flip()
		return q
	}
	q.SortField = field
	q.Direction = defaultDirection(field)
	return q
}

// GeneTableCell is one sample's z-score for a gene.
type GeneTableCell struct {
	SampleID string  `json:"sampleId"`
	Present  bool    `json:"present"`
	ZScore   float64 `json:"zScore"`
	Level    string  `json:"level,omitempty"`
	Display  string  `json:"display"`
}

// GeneTableRow is one gene of the table.
type GeneTableRow struct {
	Symbol string          `json:"symbol"`
	Cells  []GeneTableCell `json:"cells"`
}

// GeneTable is the view-model of the sortable, filterable gene list.
type GeneTable struct {
	Columns      []domain.Sample `json:"columns"`
	Rows         []GeneTableRow  `json:"rows"`
	Query        GeneTableQuery  `json:"query"`
	Empty        bool            `json:"empty"`
	EmptyMessage string          `json:"emptyMessage,omitempty"`
	Footer       string          `json:"footer"`
}

// BuildGeneTable filters and sorts the matrix. The returned query carries the sort field actually
// applied: unknown fields fall back to the first sample's z-score.
func BuildGeneTable(matrix GeneMatrix, samples []domain.Sample, query GeneTableQuery) GeneTable {
	query = resolveQuery(query, samples)

	filter := strings.ToLower(strings.TrimSpace(query.Filter))
	genes := make([]string, 0, len(matrix.Genes))
	for _, g := range matrix.Genes {
		if filter == "" || strings.Contains(strings.ToLower(g), filter) {
			genes = append(genes, g)
		}
	}

	less := symbolLess
	if query.SortField != SortBySymbol {
		sampleID := query.SortField
		less = func(a, b string) bool {
			return matrix.ZScore(a, sampleID) < matrix.ZScore(b, sampleID)
		}
	}
	sort.SliceStable(genes, func(i, j int) bool {
		if query.Direction == Ascending {
			return less(genes[i], genes[j])
		}
		return less(genes[j], genes[i])
	})

	table := GeneTable{
		Columns: samples,
		Rows:    make([]GeneTableRow, 0, len(genes)),
		Query:   query,
		Footer:  fmt.Sprintf("%d genes listed", len(genes)),
	}
	for _, g := range genes {
		table.Rows = append(table.Rows, buildRow(matrix, samples, g))
	}
	if len(table.Rows) == 0 {
		table.Empty = true
		table.EmptyMessage = EmptyTableMessage
	}
	return table
}

func resolveQuery(query GeneTableQuery, samples []domain.Sample) GeneTableQuery {
	known := query.SortField == SortBySymbol
	for _, s := range samples {
		if s.ID == query.SortField {
			known = true
			break
		}
	}
	if !known {
		query.SortField = DefaultGeneTableQuery(samples).SortField
	}
	if !query.Direction.IsValid() {
		query.Direction = defaultDirection(query.SortField)
	}
	return query
}

func symbolLess(a, b string) bool {
	return strings.ToLower(a) < strings.ToLower(b)
}

func buildRow(matrix GeneMatrix, samples []domain.Sample, gene string) GeneTableRow {
	row := GeneTableRow{Symbol: gene, Cells: make([]GeneTableCell, len(samples))}
	for i, s := range samples {
		cell := GeneTableCell{SampleID: s.ID, Display: "-"}
		if p, ok := matrix.Cell(gene, s.ID); ok {
			cell.Present = true
			cell.ZScore = p.ZScore
			cell.Level = p.ExpressionLevel()
			cell.Display = FormatZScore(p.ZScore)
		}
		row.Cells[i] = cell
	}
	return row
}

// FormatZScore renders a z-score with two decimals and an explicit plus sign for positive values.
func FormatZScore(z float64) string {
	if z > 0 {
		return fmt.Sprintf("+%.2f", z)
	}
	return fmt.Sprintf("%.2f", z)
}
