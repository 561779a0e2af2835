package dashboard

import (
	"html/template"
	"time"
)

// Card is one summary tile.
type Card struct {
	Key   string
	Label string
	Value string
}

// Confidence summarises how much the backend model can be trusted.
type Confidence struct {
	Level   string
	Message string
	Class   string
}

// Column is a table header.
type Column struct {
	Key     string
	Label   string
	Numeric bool
}

// Cell is a formatted table value. Numeric cells are right aligned.
type Cell struct {
	Text    string
	Numeric bool
}

// Table holds the detail rows ready for rendering.
type Table struct {
	Columns      []Column
	Rows         [][]Cell
	EmptyMessage string
}

// Empty reports whether the placeholder should be shown.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// Feature is one entry of the feature importance list.
type Feature struct {
	Name    string
	Label   string
	Weight  float64
	Percent string
}

// Insights is the ML insights panel.
type Insights struct {
	Kind     string
	Status   string
	Message  string
	Features []Feature
	Metrics  []Card
	Strategy string
	Chart    template.HTML
}

// HasFeatures reports whether the feature list is shown.
func (i Insights) HasFeatures() bool {
	return len(i.Features) > 0
}

// HasMetrics reports whether opportunity metrics are shown.
func (i Insights) HasMetrics() bool {
	return len(i.Metrics) > 0
}

// Seller is one row of the per-seller summary.
type Seller struct {
	Name    string
	Items   string
	Winning string
	Losing  string
	Revenue string
}

// ViewModel is the dashboard page model.
type ViewModel struct {
	Source     string
	Cards      []Card
	Confidence *Confidence
	Table      Table
	Insights   Insights
	Alerts     []string
	Sellers    []Seller
	// RowCount is the formatted number of analysed rows.
	RowCount   string
	AnalyzedAt time.Time
}
