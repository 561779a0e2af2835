package analysis

import "strings"

// knownFormats maps the field names the analysis backends emit to the format
// the dashboard renders them with. Keys are lower-cased.
var knownFormats = map[string]Format{
	// suggestion rows
	"produto":                  FormatText,
	"lojista":                  FormatText,
	"status":                   FormatText,
	"tipo_ajuste":              FormatText,
	"competitividade":          FormatText,
	"ranking":                  FormatInteger,
	"ranking_atual":            FormatInteger,
	"preço":                    FormatCurrency,
	"preco":                    FormatCurrency,
	"preço_atual":              FormatCurrency,
	"preco_atual":              FormatCurrency,
	"preço_concorrente":        FormatCurrency,
	"preco_concorrente":        FormatCurrency,
	"preço_concorrente_abaixo": FormatCurrency,
	"preço_sugerido":           FormatCurrency,
	"preco_sugerido":           FormatCurrency,
	"mais_barato":              FormatCurrency,
	"valor_ajuste":             FormatCurrency,
	"margem_extra_rs":          FormatCurrency,
	"diferença_vs_concorrente": FormatCurrency,
	"diferenca_valor":          FormatCurrency,
	"percentual_ajuste":        FormatPercent,
	"desconto_percentual":      FormatPercent,
	"margem":                   FormatPercent,
	"margem_percentual":        FormatPercent,

	// summary / insights aggregates
	"total_products":                   FormatInteger,
	"average_price":                    FormatCurrency,
	"total_produtos":                   FormatInteger,
	"total_produtos_analisados":        FormatInteger,
	"produtos_ganhando":                FormatInteger,
	"produtos_perdendo":                FormatInteger,
	"produtos_com_oportunidade_margem": FormatInteger,
	"sugestoes_criadas":                FormatInteger,
	"margem_media_ganho":               FormatPercent,
	"margem_media_perda":               FormatPercent,
	"ganho_potencial_total_rs":         FormatCurrency,
	"ganho_medio_por_produto":          FormatCurrency,
}

// LookupFormat returns the schema format registered for key.
func LookupFormat(key string) (Format, bool) {
	f, ok := knownFormats[strings.ToLower(strings.TrimSpace(key))]
	return f, ok
}

// resolveFormat picks the column format: backend override, schema, then sample value kind.
func resolveFormat(key string, overrides map[string]Format, sample Value) Format {
	if f, ok := overrides[key]; ok && f.Valid() {
		return f
	}
	if f, ok := LookupFormat(key); ok {
		return f
	}
	if sample.IsNumber() {
		return FormatNumber
	}
	return FormatText
}
