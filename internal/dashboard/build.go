// Package dashboard turns a normalized analysis report into the formatted
// view model rendered by the dashboard screen.
package dashboard

import (
	"html/template"

	"github.com/webprice/webprice-analyzer/internal/analysis"
	"github.com/webprice/webprice-analyzer/internal/locale"
)

const (
	// EmptyTableMessage replaces the table when the report has no rows.
	EmptyTableMessage = "Nenhum dado disponível."

	confidenceThreshold = 0.20
	untrainedMessage    = "Não foi possível treinar o modelo."
	trainedMessage      = "O modelo identificou padrões nos dados."
)

// ChartFunc renders the feature importance chart.
type ChartFunc func(values []float64, labels []string) (template.HTML, error)

// Build formats report for display. chart may be nil to skip the SVG.
func Build(report analysis.Report, f *locale.Formatter, chart ChartFunc) (ViewModel, error) {
	if f == nil {
		f = locale.Brazilian()
	}
	vm := ViewModel{
		Source:   report.Source,
		Cards:    cards(report.Summary, f),
		Table:    table(report, f),
		Alerts:   report.Alerts,
		RowCount: f.Integer(float64(len(report.Rows))),
	}
	vm.Confidence = confidence(report)

	insights, err := buildInsights(report.Insights, f, chart)
	if err != nil {
		return ViewModel{}, err
	}
	vm.Insights = insights

	for _, s := range report.Sellers {
		vm.Sellers = append(vm.Sellers, Seller{
			Name:    s.Seller,
			Items:   f.Integer(float64(s.Items)),
			Winning: f.Integer(float64(s.Winning)),
			Losing:  f.Integer(float64(s.Losing)),
			Revenue: f.Currency(s.Revenue),
		})
	}
	return vm, nil
}

// FormatValue renders a single value with the given column format. Values
// that are not numbers are returned unchanged.
func FormatValue(f *locale.Formatter, format analysis.Format, v analysis.Value) string {
	switch v.Kind {
	case analysis.KindNull:
		return ""
	case analysis.KindNumber:
	default:
		return v.Text
	}
	return formatNumber(f, format, v.Number)
}

func formatNumber(f *locale.Formatter, format analysis.Format, n float64) string {
	switch format {
	case analysis.FormatCurrency:
		return f.Currency(n)
	case analysis.FormatPercent:
		return f.Percent(n)
	case analysis.FormatInteger:
		return f.Integer(n)
	default:
		return f.Number(n)
	}
}

func cards(metrics []analysis.Metric, f *locale.Formatter) []Card {
	out := make([]Card, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, Card{Key: m.Key, Label: m.Label, Value: formatNumber(f, m.Format, m.Value)})
	}
	return out
}

// confidence applies to flat reports whose insights come from the trained model.
func confidence(report analysis.Report) *Confidence {
	if report.Shape != analysis.ShapeFlat || report.Insights.Kind == analysis.InsightsOpportunity {
		return nil
	}
	in := report.Insights
	if !in.Trained {
		message := in.Message
		if message == "" || message == analysis.NoInsightsMessage {
			message = untrainedMessage
		}
		return &Confidence{Level: "Baixa", Message: message, Class: "confidence-low"}
	}
	if len(in.Features) > 0 && in.MaxWeight() > confidenceThreshold {
		return &Confidence{Level: "Alta", Message: trainedMessage, Class: "confidence-high"}
	}
	return &Confidence{Level: "Média", Message: trainedMessage, Class: "confidence-medium"}
}

func table(report analysis.Report, f *locale.Formatter) Table {
	t := Table{EmptyMessage: EmptyTableMessage}
	for _, c := range report.Columns {
		t.Columns = append(t.Columns, Column{Key: c.Key, Label: c.Label, Numeric: c.Format != analysis.FormatText})
	}
	for _, row := range report.Rows {
		cells := make([]Cell, 0, len(report.Columns))
		for _, c := range report.Columns {
			v, _ := row.Get(c.Key)
			cells = append(cells, Cell{Text: FormatValue(f, c.Format, v), Numeric: v.IsNumber() && c.Format != analysis.FormatText})
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func buildInsights(in analysis.Insights, f *locale.Formatter, chart ChartFunc) (Insights, error) {
	out := Insights{
		Kind:     string(in.Kind),
		Status:   in.Status,
		Message:  in.Message,
		Strategy: in.Strategy,
	}
	switch in.Kind {
	case analysis.InsightsFeatureImportance:
		values := make([]float64, 0, len(in.Features))
		labels := make([]string, 0, len(in.Features))
		for _, feat := range in.Features {
			label := locale.Label(feat.Name)
			out.Features = append(out.Features, Feature{
				Name:    feat.Name,
				Label:   label,
				Weight:  feat.Weight,
				Percent: f.Percent(feat.Weight * 100),
			})
			weight := feat.Weight
			if weight < 0 {
				weight = 0
			}
			values = append(values, weight)
			labels = append(labels, label)
		}
		if chart != nil && len(values) > 0 {
			svg, err := chart(values, labels)
			if err != nil {
				return Insights{}, err
			}
			out.Chart = svg
		}
	case analysis.InsightsOpportunity:
		out.Metrics = cards(in.Metrics, f)
	default:
		if out.Message == "" {
			out.Message = analysis.NoInsightsMessage
		}
	}
	return out, nil
}
