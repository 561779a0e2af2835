package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/webprice/webprice-analyzer/internal/view"
)

// PrintTemplate is the page rendered into the PDF.
const PrintTemplate = "pages/dashboard_print.html"

// HTMLConverter turns an HTML document into a PDF.
type HTMLConverter interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// PDFExporter renders the print layout of the dashboard and converts it.
type PDFExporter struct {
	Converter HTMLConverter
	Templates *view.Engine
}

// Render executes the print template with data and returns the PDF bytes.
func (p *PDFExporter) Render(ctx context.Context, data view.TemplateData) ([]byte, error) {
	if p == nil || p.Converter == nil || p.Templates == nil {
		return nil, fmt.Errorf("pdf exporter not initialised")
	}
	var buf bytes.Buffer
	if err := p.Templates.Execute(&buf, PrintTemplate, data); err != nil {
		return nil, fmt.Errorf("render print template: %w", err)
	}
	pdf, err := p.Converter.RenderHTML(ctx, buf.String())
	if err != nil {
		return nil, fmt.Errorf("convert to pdf: %w", err)
	}
	return pdf, nil
}
