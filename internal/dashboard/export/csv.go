package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/webprice/webprice-analyzer/internal/analysis"
)

// WriteTableCSV serialises the report rows with raw values so the file can be
// re-imported into a spreadsheet.
func WriteTableCSV(w io.Writer, report analysis.Report) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if len(report.Columns) == 0 {
		writer.Flush()
		return writer.Error()
	}
	header := make([]string, 0, len(report.Columns))
	for _, c := range report.Columns {
		header = append(header, c.Key)
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range report.Rows {
		record := make([]string, 0, len(report.Columns))
		for _, c := range report.Columns {
			v, _ := row.Get(c.Key)
			record = append(record, rawValue(v))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteSummaryCSV emits the summary cards as metric/value pairs.
func WriteSummaryCSV(w io.Writer, report analysis.Report) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Métrica", "Valor"}); err != nil {
		return err
	}
	for _, m := range report.Summary {
		if err := writer.Write([]string{m.Label, formatFloat(m.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func rawValue(v analysis.Value) string {
	switch v.Kind {
	case analysis.KindNull:
		return ""
	case analysis.KindNumber:
		return formatFloat(v.Number)
	default:
		return v.Text
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
