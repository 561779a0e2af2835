// Package locale formats numbers the way the dashboard presents them.
package locale

import (
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var symbols = map[string]string{
	"BRL": "R$",
	"USD": "US$",
	"EUR": "€",
}

// Formatter renders numeric values for a single locale.
type Formatter struct {
	printer *message.Printer
	symbol  string
}

// New builds a Formatter for tag. The currency symbol follows the region of the tag.
func New(tag language.Tag) *Formatter {
	symbol := ""
	if unit, conf := currency.FromTag(tag); conf != language.No {
		symbol = symbols[unit.String()]
		if symbol == "" {
			symbol = unit.String()
		}
	}
	return &Formatter{
		printer: message.NewPrinter(tag),
		symbol:  symbol,
	}
}

// Brazilian returns the pt-BR formatter used by the dashboard.
func Brazilian() *Formatter {
	return New(language.BrazilianPortuguese)
}

// Number formats v with two fraction digits and locale grouping.
func (f *Formatter) Number(v float64) string {
	return f.printer.Sprint(number.Decimal(Round2(v), number.Scale(2)))
}

// Integer formats v without fraction digits.
func (f *Formatter) Integer(v float64) string {
	r := math.Round(v)
	if r == 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		r = 0
	}
	return f.printer.Sprint(number.Decimal(r, number.Scale(0)))
}

// Currency formats v as a monetary amount, e.g. "R$ 1.234,50".
func (f *Formatter) Currency(v float64) string {
	v = Round2(v)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	amount := f.printer.Sprint(number.Decimal(v, number.Scale(2)))
	if f.symbol == "" {
		return sign + amount
	}
	return sign + f.symbol + " " + amount
}

// Percent formats a value already expressed in percent, e.g. 12.345 -> "12,35%".
func (f *Formatter) Percent(v float64) string {
	return f.Number(v) + "%"
}

// Label turns a snake_case field name into display text.
func Label(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}
