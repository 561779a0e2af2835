package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/webprice/webprice-analyzer/internal/locale"
)

// NoInsightsMessage is shown when the backend sent nothing usable as insights.
const NoInsightsMessage = "Não foi possível gerar insights."

const derivedInsightsMessage = "Métricas derivadas do resumo da análise."

var validate = validator.New()

type envelope struct {
	Summary       json.RawMessage `json:"summary"`
	Data          json.RawMessage `json:"data"`
	MLInsights    json.RawMessage `json:"ml_insights"`
	Analise       json.RawMessage `json:"analise"`
	Arquivo       json.RawMessage `json:"arquivo"`
	ColumnFormats json.RawMessage `json:"column_formats"`
}

// Decode normalizes a backend response body into a Report. Both response
// contracts are accepted; anything else fails with ErrMalformedResult.
func Decode(body []byte) (Report, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return Report{}, fmt.Errorf("%w: body is not a JSON object", ErrMalformedResult)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}

	var (
		report Report
		err    error
	)
	switch {
	case present(env.Analise):
		report, err = decodeNested(env)
	case present(env.Summary) || present(env.Data) || present(env.MLInsights):
		report, err = decodeFlat(env)
	default:
		return Report{}, fmt.Errorf("%w: unrecognised response shape", ErrMalformedResult)
	}
	if err != nil {
		return Report{}, err
	}
	report.Source = stringOf(env.Arquivo)
	if err := validate.Struct(report); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	return report, nil
}

func decodeFlat(env envelope) (Report, error) {
	rows, err := decodeRows(env.Data)
	if err != nil {
		return Report{}, err
	}
	summary := objectOf(env.Summary)
	report := Report{
		Shape: ShapeFlat,
		Summary: []Metric{
			metric(summary, "total_products", "Produtos para Ajuste"),
			metric(summary, "average_price", "Preço Médio (Amostra)"),
		},
		Rows:     rows,
		Columns:  columnsOf(rows, formatOverrides(env.ColumnFormats)),
		Insights: decodeModelInsights(env.MLInsights),
	}
	return report, nil
}

func decodeNested(env envelope) (Report, error) {
	analise := objectOf(env.Analise)
	if analise == nil {
		return Report{}, fmt.Errorf("%w: analise is not an object", ErrMalformedResult)
	}
	rows, err := decodeRows(analise["detalhes_produtos"])
	if err != nil {
		return Report{}, err
	}
	overrides := formatOverrides(env.ColumnFormats)
	for k, v := range formatOverrides(analise["column_formats"]) {
		overrides[k] = v
	}

	summary := []Metric{
		metric(analise, "total_produtos", "Total de Produtos"),
		metric(analise, "produtos_ganhando", "Produtos Ganhando"),
	}
	if present(analise["produtos_perdendo"]) {
		summary = append(summary, metric(analise, "produtos_perdendo", "Produtos Perdendo"))
	}
	summary = append(summary, metric(analise, "margem_media_ganho", "Margem Média (Ganho)"))
	if present(analise["margem_media_perda"]) {
		summary = append(summary, metric(analise, "margem_media_perda", "Margem Média (Perda)"))
	}

	sellers := decodeSellers(analise["resumo_por_lojista"])
	report := Report{
		Shape:   ShapeNested,
		Summary: summary,
		Rows:    rows,
		Columns: columnsOf(rows, overrides),
		Alerts:  stringsOf(analise["alertas"]),
		Sellers: sellers,
	}
	report.Insights = deriveInsights(analise, rows, sellers)
	return report, nil
}

var opportunityMetrics = []struct {
	key   string
	label string
}{
	{"total_produtos_analisados", "Produtos Analisados"},
	{"produtos_ganhando", "Produtos Ganhando"},
	{"produtos_com_oportunidade_margem", "Produtos com Oportunidade de Margem"},
	{"sugestoes_criadas", "Sugestões Criadas"},
	{"ganho_potencial_total_rs", "Ganho Potencial Total"},
	{"ganho_medio_por_produto", "Ganho Médio por Produto"},
}

func decodeModelInsights(raw json.RawMessage) Insights {
	obj := objectOf(raw)
	if obj == nil {
		return Insights{Kind: InsightsNone, Message: NoInsightsMessage}
	}
	insights := Insights{
		Kind:    InsightsNone,
		Status:  stringOf(obj["status"]),
		Message: stringOf(obj["message"]),
	}
	insights.Trained = insights.Status == ModelTrainedStatus

	if weights := objectOf(obj["importancia_das_features"]); len(weights) > 0 {
		features := make([]FeatureWeight, 0, len(weights))
		for name, value := range weights {
			features = append(features, FeatureWeight{Name: name, Weight: numberOf(value)})
		}
		sortFeatures(features)
		insights.Kind = InsightsFeatureImportance
		insights.Features = features
		return insights
	}

	for _, m := range opportunityMetrics {
		if present(obj[m.key]) {
			insights.Metrics = append(insights.Metrics, metric(obj, m.key, m.label))
		}
	}
	if len(insights.Metrics) > 0 {
		insights.Kind = InsightsOpportunity
		insights.Strategy = stringOf(obj["estrategia"])
		return insights
	}
	if insights.Message == "" {
		insights.Message = NoInsightsMessage
	}
	return insights
}

func deriveInsights(analise map[string]json.RawMessage, rows []Row, sellers []SellerSummary) Insights {
	total := numberOf(analise["total_produtos"])
	winning := numberOf(analise["produtos_ganhando"])
	losing := numberOf(analise["produtos_perdendo"])
	spread := numberOf(analise["margem_media_ganho"]) - numberOf(analise["margem_media_perda"])

	sellerCount := len(sellers)
	if sellerCount == 0 {
		seen := make(map[string]struct{})
		for _, row := range rows {
			if v, ok := row.Get("lojista"); ok && v.Kind == KindText && v.Text != "" {
				seen[v.Text] = struct{}{}
			}
		}
		sellerCount = len(seen)
	}

	return Insights{
		Kind:    InsightsOpportunity,
		Message: derivedInsightsMessage,
		Metrics: []Metric{
			{Key: "taxa_vitoria", Label: "Taxa de Vitória", Value: ratio(winning, total), Format: FormatPercent},
			{Key: "taxa_derrota", Label: "Taxa de Derrota", Value: ratio(losing, total), Format: FormatPercent},
			{Key: "diferenca_margens", Label: "Diferença entre Margens (p.p.)", Value: spread, Format: FormatNumber},
			{Key: "lojistas", Label: "Lojistas Analisados", Value: float64(sellerCount), Format: FormatInteger},
		},
	}
}

func decodeSellers(raw json.RawMessage) []SellerSummary {
	obj := objectOf(raw)
	if len(obj) == 0 {
		return nil
	}
	sellers := make([]SellerSummary, 0, len(obj))
	for name, value := range obj {
		entry := objectOf(value)
		sellers = append(sellers, SellerSummary{
			Seller:  name,
			Items:   int(numberOf(entry["produtos"])),
			Winning: int(numberOf(entry["ganhando"])),
			Losing:  int(numberOf(entry["perdendo"])),
			Revenue: numberOf(entry["receita_total"]),
		})
	}
	sort.Slice(sellers, func(i, j int) bool { return sellers[i].Seller < sellers[j].Seller })
	return sellers
}

// decodeRows reads an array of objects keeping each object's key order.
func decodeRows(raw json.RawMessage) ([]Row, error) {
	if !present(raw) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}
	var rows []Row
	for dec.More() {
		row, err := decodeRow(dec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return rows, nil
}

func decodeRow(dec *json.Decoder) (Row, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return Row{}, err
	}
	var row Row
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Row{}, fmt.Errorf("%w: %v", ErrMalformedResult, err)
		}
		key, ok := tok.(string)
		if !ok {
			return Row{}, fmt.Errorf("%w: unexpected token %v", ErrMalformedResult, tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Row{}, fmt.Errorf("%w: %v", ErrMalformedResult, err)
		}
		value := valueOf(raw)
		if i, dup := index[key]; dup {
			row.Fields[i].Value = value
			continue
		}
		index[key] = len(row.Fields)
		row.Fields = append(row.Fields, Field{Key: key, Value: value})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return Row{}, err
	}
	return row, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrMalformedResult, want, tok)
	}
	return nil
}

func columnsOf(rows []Row, overrides map[string]Format) []Column {
	if len(rows) == 0 {
		return nil
	}
	first := rows[0]
	columns := make([]Column, 0, len(first.Fields))
	for _, f := range first.Fields {
		columns = append(columns, Column{
			Key:    f.Key,
			Label:  locale.Label(f.Key),
			Format: resolveFormat(f.Key, overrides, f.Value),
		})
	}
	return columns
}

func formatOverrides(raw json.RawMessage) map[string]Format {
	overrides := make(map[string]Format)
	for key, value := range objectOf(raw) {
		if f := Format(strings.ToLower(stringOf(value))); f.Valid() {
			overrides[key] = f
		}
	}
	return overrides
}

func metric(obj map[string]json.RawMessage, key, label string) Metric {
	format, ok := LookupFormat(key)
	if !ok {
		format = FormatNumber
	}
	return Metric{Key: key, Label: label, Value: numberOf(obj[key]), Format: format}
}

func valueOf(raw json.RawMessage) Value {
	raw = bytes.TrimSpace(raw)
	if !present(raw) {
		return Value{Kind: KindNull}
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return Value{Kind: KindText, Text: s}
		}
	case 't', 'f':
		return Value{Kind: KindBool, Text: string(raw)}
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			return Value{Kind: KindText, Text: buf.String()}
		}
	default:
		if n, err := strconv.ParseFloat(string(raw), 64); err == nil {
			return Value{Kind: KindNumber, Number: n}
		}
	}
	return Value{Kind: KindText, Text: string(raw)}
}

// numberOf reads a JSON number, or a string holding one; anything else is 0.
func numberOf(raw json.RawMessage) float64 {
	v := valueOf(raw)
	switch v.Kind {
	case KindNumber:
		return v.Number
	case KindText:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64); err == nil {
			return n
		}
	}
	return 0
}

func stringOf(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func stringsOf(raw json.RawMessage) []string {
	if !present(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := stringOf(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func objectOf(raw json.RawMessage) map[string]json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func ratio(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total * 100
}

// IsMalformed reports whether err came from decoding a response body.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResult)
}
