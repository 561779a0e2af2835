package view

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webprice/webprice-analyzer/internal/shared"
	"github.com/webprice/webprice-analyzer/internal/workspace"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestRenderUploadPage(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	err = engine.Render(rr, "pages/upload.html", TemplateData{
		Title:     "Analisar Preços",
		CSRFToken: "tok<en>",
		Flash:     &shared.FlashMessage{Kind: "warning", Message: "Uma análise já está em andamento."},
		Data: struct {
			State   workspace.State
			Refresh int
		}{
			State:   workspace.State{Phase: workspace.PhaseSubmitting, FileName: "precos.csv", FileSize: 10},
			Refresh: 2,
		},
	})
	require.NoError(t, err)

	body := rr.Body.String()
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, body, "Arquivo: precos.csv")
	assert.Contains(t, body, "Analisando...")
	assert.Contains(t, body, `data-refresh="2"`)
	assert.Contains(t, body, "Cancelar análise")
	assert.Contains(t, body, "flash-warning")
	assert.Contains(t, body, `value="tok&lt;en&gt;"`)
}

func TestRenderUnknownTemplateWritesNothing(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	assert.Error(t, engine.Render(rr, "pages/missing.html", TemplateData{}))
	assert.Empty(t, rr.Body.String())
}

func TestNilEngine(t *testing.T) {
	var engine *Engine
	assert.Error(t, engine.Render(httptest.NewRecorder(), "pages/upload.html", TemplateData{}))
	assert.Error(t, engine.Execute(httptest.NewRecorder(), "pages/upload.html", TemplateData{}))
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "", formatDate(time.Time{}))
	assert.Equal(t, "17/10/2026 09:05", formatDate(time.Date(2026, 10, 17, 9, 5, 0, 0, time.UTC)))
}
