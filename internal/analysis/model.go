package analysis

import "sort"

// Shape identifies which backend response contract a Report was decoded from.
type Shape string

const (
	// ShapeFlat is the {summary, data, ml_insights} contract.
	ShapeFlat Shape = "flat"
	// ShapeNested is the {analise: {...}} contract.
	ShapeNested Shape = "nested"
)

// Format describes how a numeric value is presented.
type Format string

const (
	FormatCurrency Format = "currency"
	FormatPercent  Format = "percent"
	FormatNumber   Format = "number"
	FormatInteger  Format = "integer"
	FormatText     Format = "text"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatCurrency, FormatPercent, FormatNumber, FormatInteger, FormatText:
		return true
	}
	return false
}

// ValueKind discriminates Value.
type ValueKind string

const (
	KindNull   ValueKind = "null"
	KindNumber ValueKind = "number"
	KindText   ValueKind = "text"
	KindBool   ValueKind = "bool"
)

// Value is a single cell as received from the backend.
type Value struct {
	Kind   ValueKind `json:"kind"`
	Number float64   `json:"number,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// IsNumber reports whether the value carries a number.
func (v Value) IsNumber() bool {
	return v.Kind == KindNumber
}

// Field is one key/value pair of a row, in document order.
type Field struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Row is a detailed line item.
type Row struct {
	Fields []Field `json:"fields"`
}

// Get returns the value stored under key.
func (r Row) Get(key string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{Kind: KindNull}, false
}

// Column describes one table column.
type Column struct {
	Key    string `json:"key" validate:"required"`
	Label  string `json:"label"`
	Format Format `json:"format" validate:"required"`
}

// Metric is a labelled aggregate with an explicit format.
type Metric struct {
	Key    string  `json:"key" validate:"required"`
	Label  string  `json:"label" validate:"required"`
	Value  float64 `json:"value"`
	Format Format  `json:"format" validate:"required"`
}

// FeatureWeight is the importance the backend model assigned to an input column.
type FeatureWeight struct {
	Name   string  `json:"name" validate:"required"`
	Weight float64 `json:"weight"`
}

// InsightsKind discriminates Insights.
type InsightsKind string

const (
	InsightsNone              InsightsKind = "none"
	InsightsFeatureImportance InsightsKind = "feature_importance"
	InsightsOpportunity       InsightsKind = "opportunity"
)

// ModelTrainedStatus is the status string the backend sends when its model trained.
const ModelTrainedStatus = "Modelo treinado com sucesso!"

// Insights carries the model-derived metrics of a Report.
type Insights struct {
	Kind     InsightsKind    `json:"kind" validate:"oneof=none feature_importance opportunity"`
	Status   string          `json:"status,omitempty"`
	Message  string          `json:"message,omitempty"`
	Trained  bool            `json:"trained"`
	Features []FeatureWeight `json:"features,omitempty" validate:"dive"`
	Metrics  []Metric        `json:"metrics,omitempty" validate:"dive"`
	Strategy string          `json:"strategy,omitempty"`
}

// MaxWeight returns the largest feature weight, or 0 without features.
func (i Insights) MaxWeight() float64 {
	top := 0.0
	for idx, f := range i.Features {
		if idx == 0 || f.Weight > top {
			top = f.Weight
		}
	}
	return top
}

// SellerSummary aggregates rows per seller.
type SellerSummary struct {
	Seller  string  `json:"seller"`
	Items   int     `json:"items" validate:"gte=0"`
	Winning int     `json:"winning" validate:"gte=0"`
	Losing  int     `json:"losing" validate:"gte=0"`
	Revenue float64 `json:"revenue"`
}

// Report is the normalized analysis result rendered by the dashboard.
type Report struct {
	Shape    Shape           `json:"shape" validate:"oneof=flat nested"`
	Source   string          `json:"source,omitempty"`
	Summary  []Metric        `json:"summary" validate:"dive"`
	Columns  []Column        `json:"columns" validate:"dive"`
	Rows     []Row           `json:"rows"`
	Insights Insights        `json:"insights"`
	Alerts   []string        `json:"alerts,omitempty"`
	Sellers  []SellerSummary `json:"sellers,omitempty" validate:"dive"`
}

// Empty reports whether the report has no rows.
func (r Report) Empty() bool {
	return len(r.Rows) == 0
}

func sortFeatures(features []FeatureWeight) {
	sort.SliceStable(features, func(i, j int) bool {
		if features[i].Weight == features[j].Weight {
			return features[i].Name < features[j].Name
		}
		return features[i].Weight > features[j].Weight
	})
}
