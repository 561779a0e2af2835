package svg

import (
	"fmt"
	"html/template"
	"strings"
)

// Bars renders one horizontal bar per label, scaled against the largest value.
// The chart grows with the number of labels.
func Bars(width int, values []float64, labels []string, opts BarOpts) (template.HTML, error) {
	if len(values) == 0 {
		return "", fmt.Errorf("svg: values required")
	}
	if len(values) != len(labels) {
		return "", fmt.Errorf("svg: labels length must match values")
	}
	if width <= 0 {
		width = DefaultWidth
	}
	padding := opts.Padding
	if padding <= 0 {
		padding = DefaultPadding
	}
	labelWidth := opts.LabelWidth
	if labelWidth <= 0 {
		labelWidth = DefaultLabelWidth
	}
	tickCount := opts.TickCount
	if tickCount <= 0 {
		tickCount = DefaultTicks
	}
	format := opts.FormatValue
	if format == nil {
		format = formatTick
	}

	axisColor := fallback(opts.AxisColor, "#475569")
	gridColor := fallback(opts.GridColor, "#cbd5f5")
	color := fallback(opts.Color, "#0ea5e9")

	rowHeight := float64(DefaultBarHeight)
	chartLeft := padding + labelWidth
	chartWidth := float64(width) - chartLeft - padding
	chartHeight := rowHeight * float64(len(values))
	height := int(chartHeight + 2*padding)
	if chartWidth <= 0 {
		return "", fmt.Errorf("svg: viewport too small")
	}

	minVal, maxVal := bounds(values)
	if minVal < 0 {
		return "", fmt.Errorf("svg: negative values not supported")
	}
	if almostEqual(maxVal, 0) {
		maxVal = 1
	}
	scale := chartWidth / maxVal

	titleID := makeID(opts.Title, "bar-title")
	descID := makeID(opts.Title, "bar-desc")

	var b strings.Builder
	b.WriteString(fmt.Sprintf("<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"0 0 %d %d\" role=\"img\" aria-labelledby=\"%s %s\">", width, height, titleID, descID))
	b.WriteString(fmt.Sprintf("<title id=\"%s\">%s</title>", titleID, template.HTMLEscapeString(fallback(opts.Title, "Gráfico de barras"))))
	b.WriteString(fmt.Sprintf("<desc id=\"%s\">%s</desc>", descID, template.HTMLEscapeString(fallback(opts.Description, "Valores por categoria"))))

	for i := 0; i <= tickCount; i++ {
		ratio := float64(i) / float64(tickCount)
		x := chartLeft + ratio*chartWidth
		b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"0.5\" stroke-dasharray=\"2,4\" aria-hidden=\"true\"></line>", x, padding, x, padding+chartHeight, gridColor))
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"10\" text-anchor=\"middle\">%s</text>", x, padding+chartHeight+14, axisColor, template.HTMLEscapeString(format(maxVal*ratio))))
	}

	b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"1\"></line>", chartLeft, padding, chartLeft, padding+chartHeight, axisColor))

	for i, label := range labels {
		y := padding + float64(i)*rowHeight
		barWidth := values[i] * scale
		if barWidth > chartWidth {
			barWidth = chartWidth
		}
		center := y + rowHeight/2
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"11\" text-anchor=\"end\">%s</text>", chartLeft-6, center+4, axisColor, template.HTMLEscapeString(truncate(label, 28))))
		b.WriteString(fmt.Sprintf("<rect x=\"%.2f\" y=\"%.2f\" width=\"%.2f\" height=\"%.2f\" fill=\"%s\" aria-label=\"%s %s\"></rect>", chartLeft, y+rowHeight*0.2, barWidth, rowHeight*0.6, color, template.HTMLEscapeString(label), template.HTMLEscapeString(format(values[i]))))
	}

	b.WriteString("</svg>")
	return template.HTML(b.String()), nil
}
