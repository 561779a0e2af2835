package dashboard

import (
	"errors"
	"html/template"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webprice/webprice-analyzer/internal/analysis"
	"github.com/webprice/webprice-analyzer/internal/locale"
)

func decode(t *testing.T, body string) analysis.Report {
	t.Helper()
	report, err := analysis.Decode([]byte(body))
	require.NoError(t, err)
	return report
}

func TestBuildFormatsCellsBySchema(t *testing.T) {
	report := decode(t, `{
		"summary": {"total_products": 1500, "average_price": 1234.5},
		"data": [
			{"produto": "Caneta", "preço_sugerido": 19.9, "desconto_percentual": 12.345, "ranking": 3, "estoque": 1234.567},
			{"produto": "Lápis", "preço_sugerido": "sob consulta", "desconto_percentual": null, "ranking": 1, "estoque": 2}
		],
		"ml_insights": {"status": "Modelo treinado com sucesso!", "importancia_das_features": {"a": 0.5, "b": 0.2}}
	}`)

	vm, err := Build(report, locale.Brazilian(), nil)
	require.NoError(t, err)

	require.Len(t, vm.Cards, 2)
	assert.Equal(t, "Produtos para Ajuste", vm.Cards[0].Label)
	assert.Equal(t, "1.500", vm.Cards[0].Value)
	assert.Equal(t, "R$ 1.234,50", vm.Cards[1].Value)

	require.Len(t, vm.Table.Rows, 2)
	first := vm.Table.Rows[0]
	assert.Equal(t, "Caneta", first[0].Text)
	assert.Equal(t, "R$ 19,90", first[1].Text)
	assert.Equal(t, "12,35%", first[2].Text)
	assert.Equal(t, "3", first[3].Text)
	assert.Equal(t, "1.234,57", first[4].Text)
	assert.True(t, first[1].Numeric)
	assert.False(t, first[0].Numeric)

	second := vm.Table.Rows[1]
	assert.Equal(t, "sob consulta", second[1].Text)
	assert.False(t, second[1].Numeric)
	assert.Equal(t, "", second[2].Text)

	assert.Equal(t, "preço sugerido", vm.Table.Columns[1].Label)
	assert.True(t, vm.Table.Columns[1].Numeric)
	assert.False(t, vm.Table.Empty())
	assert.Equal(t, "2", vm.RowCount)
}

func TestBuildEmptyRowsShowsPlaceholderAndZeroCards(t *testing.T) {
	vm, err := Build(decode(t, `{"summary": {}, "data": [], "ml_insights": {}}`), nil, nil)
	require.NoError(t, err)
	assert.True(t, vm.Table.Empty())
	assert.Equal(t, EmptyTableMessage, vm.Table.EmptyMessage)
	assert.Empty(t, vm.Table.Columns)
	assert.Equal(t, "0", vm.RowCount)
	assert.Equal(t, "0", vm.Cards[0].Value)
	assert.Equal(t, "R$ 0,00", vm.Cards[1].Value)
	assert.Equal(t, analysis.NoInsightsMessage, vm.Insights.Message)
	assert.False(t, vm.Insights.HasFeatures())
}

func TestBuildFeatureImportanceOrderAndChart(t *testing.T) {
	report := decode(t, `{"data": [], "ml_insights": {"status": "Modelo treinado com sucesso!", "importancia_das_features": {"preco_medio": 0.2, "custo": 0.5}}}`)
	var gotLabels []string
	chart := func(values []float64, labels []string) (template.HTML, error) {
		gotLabels = labels
		return template.HTML("<svg>mock</svg>"), nil
	}

	vm, err := Build(report, locale.Brazilian(), chart)
	require.NoError(t, err)
	require.Len(t, vm.Insights.Features, 2)
	assert.Equal(t, "custo", vm.Insights.Features[0].Name)
	assert.Equal(t, "50,00%", vm.Insights.Features[0].Percent)
	assert.Equal(t, "preco medio", vm.Insights.Features[1].Label)
	assert.Equal(t, "20,00%", vm.Insights.Features[1].Percent)
	assert.Equal(t, []string{"custo", "preco medio"}, gotLabels)
	assert.Equal(t, template.HTML("<svg>mock</svg>"), vm.Insights.Chart)
}

func TestBuildChartErrorPropagates(t *testing.T) {
	report := decode(t, `{"ml_insights": {"importancia_das_features": {"a": 1}}}`)
	_, err := Build(report, nil, func([]float64, []string) (template.HTML, error) {
		return "", errors.New("svg failed")
	})
	assert.Error(t, err)
}

func TestConfidenceLevels(t *testing.T) {
	cases := map[string]struct {
		body    string
		level   string
		message string
	}{
		"high": {
			body:    `{"ml_insights": {"status": "Modelo treinado com sucesso!", "importancia_das_features": {"a": 0.21, "b": 0.1}}}`,
			level:   "Alta",
			message: trainedMessage,
		},
		"medium at threshold": {
			body:    `{"ml_insights": {"status": "Modelo treinado com sucesso!", "importancia_das_features": {"a": 0.2}}}`,
			level:   "Média",
			message: trainedMessage,
		},
		"low with backend message": {
			body:    `{"ml_insights": {"status": "Erro", "message": "Dados insuficientes"}}`,
			level:   "Baixa",
			message: "Dados insuficientes",
		},
		"low without insights": {
			body:    `{"data": []}`,
			level:   "Baixa",
			message: untrainedMessage,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			vm, err := Build(decode(t, tc.body), nil, nil)
			require.NoError(t, err)
			require.NotNil(t, vm.Confidence)
			assert.Equal(t, tc.level, vm.Confidence.Level)
			assert.Equal(t, tc.message, vm.Confidence.Message)
		})
	}
}

func TestBuildNestedReport(t *testing.T) {
	report := decode(t, `{"analise": {
		"total_produtos": 2, "produtos_ganhando": 1, "margem_media_ganho": 4.5,
		"detalhes_produtos": [{"produto": "A", "lojista": "Loja 1", "preco": 10}],
		"resumo_por_lojista": {"Loja 1": {"produtos": 1, "ganhando": 1, "perdendo": 0, "receita_total": 1234.5}},
		"alertas": ["Produto A abaixo do custo"]
	}}`)
	vm, err := Build(report, locale.Brazilian(), nil)
	require.NoError(t, err)
	assert.Nil(t, vm.Confidence)
	assert.Equal(t, "4,50%", vm.Cards[2].Value)
	assert.True(t, vm.Insights.HasMetrics())
	assert.Equal(t, "50,00%", vm.Insights.Metrics[0].Value)
	assert.Equal(t, []string{"Produto A abaixo do custo"}, vm.Alerts)
	require.Len(t, vm.Sellers, 1)
	assert.Equal(t, "R$ 1.234,50", vm.Sellers[0].Revenue)
	assert.Equal(t, "R$ 10,00", vm.Table.Rows[0][2].Text)
}

func TestFormatValuePassesTextThrough(t *testing.T) {
	f := locale.Brazilian()
	assert.Equal(t, "n/d", FormatValue(f, analysis.FormatCurrency, analysis.Value{Kind: analysis.KindText, Text: "n/d"}))
	assert.Equal(t, "true", FormatValue(f, analysis.FormatNumber, analysis.Value{Kind: analysis.KindBool, Text: "true"}))
	assert.Equal(t, "", FormatValue(f, analysis.FormatNumber, analysis.Value{Kind: analysis.KindNull}))
	assert.Equal(t, "-R$ 5,00", FormatValue(f, analysis.FormatCurrency, analysis.Value{Kind: analysis.KindNumber, Number: -5}))
}
