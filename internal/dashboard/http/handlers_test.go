package dashboardhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webprice/webprice-analyzer/internal/analysis"
	jobmetrics "github.com/webprice/webprice-analyzer/internal/jobs"
	"github.com/webprice/webprice-analyzer/internal/observability"
	"github.com/webprice/webprice-analyzer/internal/shared"
	"github.com/webprice/webprice-analyzer/internal/view"
	"github.com/webprice/webprice-analyzer/internal/workspace"
)

const flatBody = `{
	"summary": {"total_products": 2, "average_price": 19.9},
	"data": [
		{"produto": "Caneta", "preço_sugerido": 19.9},
		{"produto": "Lápis", "preço_sugerido": 2.5}
	],
	"ml_insights": {"status": "Modelo treinado com sucesso!", "importancia_das_features": {"custo": 0.6, "frete": 0.4}}
}`

type stubAnalyzer struct {
	calls  atomic.Int32
	report analysis.Report
	err    error
}

func (s *stubAnalyzer) Analyze(ctx context.Context, upload analysis.Upload) (analysis.Report, error) {
	s.calls.Add(1)
	return s.report, s.err
}

type stubEnqueuer struct {
	sessions []string
	err      error
}

func (s *stubEnqueuer) EnqueueAnalysis(ctx context.Context, sessionID string) error {
	if s.err != nil {
		return s.err
	}
	s.sessions = append(s.sessions, sessionID)
	return nil
}

type stubPDF struct {
	data view.TemplateData
	err  error
}

func (s *stubPDF) Render(ctx context.Context, data view.TemplateData) ([]byte, error) {
	s.data = data
	if s.err != nil {
		return nil, s.err
	}
	return []byte("%PDF-1.7"), nil
}

type harness struct {
	router  http.Handler
	session *shared.Session
	ctrl    *workspace.Controller
}

func newHarness(t *testing.T, analyzer workspace.Analyzer, mutate func(*workspace.Config), opts Options) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := workspace.Config{
		Store:    workspace.NewStore(client, time.Hour),
		Analyzer: analyzer,
		Logger:   logger,
		Metrics:  jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := workspace.NewController(cfg)
	require.NoError(t, err)

	templates, err := view.NewEngine()
	require.NoError(t, err)

	h := NewHandler(logger, ctrl, templates, shared.NewCSRFManager("secret"), opts)
	sess := &shared.Session{ID: "3b8f2a9c-1d4e-4f6a-8b7c-9d0e1f2a3b4c"}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	h.MountRoutes(r)
	return &harness{router: r, session: sess, ctrl: ctrl}
}

func (h *harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func (h *harness) page(t *testing.T) string {
	t.Helper()
	rr := h.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func uploadRequest(t *testing.T, path, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(analysis.FileField, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeFlat(t *testing.T) analysis.Report {
	t.Helper()
	report, err := analysis.Decode([]byte(flatBody))
	require.NoError(t, err)
	return report
}

func TestIndexRendersEmptyUploadScreen(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{}, nil, Options{})

	body := h.page(t)
	assert.Contains(t, body, "Clique para selecionar um arquivo")
	assert.Contains(t, body, `id="submit-button" type="submit" disabled`)
	assert.Contains(t, body, `name="csrf_token" value="`)
	assert.NotContains(t, body, "data-refresh")
	assert.NotContains(t, body, `action="/reset"`)
}

func TestSelectThenAnalyzeShowsDashboard(t *testing.T) {
	analyzer := &stubAnalyzer{report: decodeFlat(t)}
	h := newHarness(t, analyzer, nil, Options{})

	rr := h.do(t, uploadRequest(t, "/select", "precos.csv", "produto,preco\nCaneta,19.9\n"))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
	assert.Contains(t, h.page(t), "Arquivo: precos.csv")

	rr = h.do(t, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.EqualValues(t, 1, analyzer.calls.Load())

	body := h.page(t)
	assert.Contains(t, body, "Dashboard de Análise")
	assert.Contains(t, body, "R$ 19,90")
	assert.Contains(t, body, "Analisar Novo Arquivo")
	assert.Contains(t, body, "60,00%")
	assert.Contains(t, body, "<svg")
	assert.Contains(t, body, "2 linhas analisadas")

	rr = h.do(t, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"phase":"displaying"}`, rr.Body.String())
}

func TestAnalyzeWithoutFileStoresInputError(t *testing.T) {
	analyzer := &stubAnalyzer{}
	h := newHarness(t, analyzer, nil, Options{})

	rr := h.do(t, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Zero(t, analyzer.calls.Load())
	assert.Contains(t, h.page(t), workspace.InputErrorMessage)
}

func TestAnalyzeWithFilePartSelectsAndSubmits(t *testing.T) {
	analyzer := &stubAnalyzer{report: decodeFlat(t)}
	h := newHarness(t, analyzer, nil, Options{})

	rr := h.do(t, uploadRequest(t, "/analyze", "precos.csv", "produto\nCaneta\n"))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.EqualValues(t, 1, analyzer.calls.Load())
	assert.Contains(t, h.page(t), "Dashboard de Análise")
}

func TestAnalyzeRejectsNonCSVUpload(t *testing.T) {
	analyzer := &stubAnalyzer{}
	h := newHarness(t, analyzer, nil, Options{})

	rr := h.do(t, uploadRequest(t, "/analyze", "precos.xlsx", "x"))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Zero(t, analyzer.calls.Load())
	assert.Contains(t, h.page(t), workspace.InputErrorMessage)
}

func TestBackendFailureShowsGenericMessageAndKeepsFile(t *testing.T) {
	analyzer := &stubAnalyzer{err: &analysis.StatusError{StatusCode: http.StatusInternalServerError}}
	h := newHarness(t, analyzer, nil, Options{})

	h.do(t, uploadRequest(t, "/select", "precos.csv", "a,b\n"))
	rr := h.do(t, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	body := h.page(t)
	assert.Contains(t, body, "Ocorreu um erro ao analisar o arquivo.")
	assert.Contains(t, body, "Arquivo: precos.csv")

	rr = h.do(t, httptest.NewRequest(http.MethodGet, "/status", nil))
	var status statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, workspace.PhaseIdle, status.Phase)
	assert.Equal(t, "precos.csv", status.FileName)
	assert.Equal(t, workspace.BackendErrorMessage, status.Error)
}

func TestResetReturnsToUploadScreen(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{report: decodeFlat(t)}, nil, Options{})
	h.do(t, uploadRequest(t, "/analyze", "precos.csv", "a\n"))

	rr := h.do(t, httptest.NewRequest(http.MethodPost, "/reset", nil))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	body := h.page(t)
	assert.Contains(t, body, "Clique para selecionar um arquivo")
	assert.NotContains(t, body, "Dashboard de Análise")
	assert.NotContains(t, body, `role="alert"`)
}

func TestSelectWhileDisplayingFlashesNotice(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{report: decodeFlat(t)}, nil, Options{})
	h.do(t, uploadRequest(t, "/analyze", "precos.csv", "a\n"))

	rr := h.do(t, uploadRequest(t, "/select", "outro.csv", "b\n"))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Contains(t, h.page(t), displayingMessage)
}

func TestQueueDispatchRefreshesWhileSubmitting(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	analyzer := &stubAnalyzer{}
	h := newHarness(t, analyzer, func(cfg *workspace.Config) {
		cfg.Dispatch = workspace.DispatchQueue
		cfg.Enqueuer = enqueuer
	}, Options{})

	rr := h.do(t, uploadRequest(t, "/analyze", "precos.csv", "a\n"))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, []string{h.session.WorkspaceID()}, enqueuer.sessions)
	assert.Zero(t, analyzer.calls.Load())

	body := h.page(t)
	assert.Contains(t, body, `data-refresh="2"`)
	assert.Contains(t, body, "Analisando...")
	assert.Contains(t, body, `action="/reset"`)

	rr = h.do(t, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Len(t, enqueuer.sessions, 1)
	assert.Contains(t, h.page(t), busyMessage)
}

func TestEnqueueFailureShowsGenericMessage(t *testing.T) {
	metrics := observability.NewMetrics()
	h := newHarness(t, &stubAnalyzer{}, func(cfg *workspace.Config) {
		cfg.Dispatch = workspace.DispatchQueue
		cfg.Enqueuer = &stubEnqueuer{err: errors.New("redis down")}
	}, Options{Metrics: metrics})

	rr := h.do(t, uploadRequest(t, "/analyze", "precos.csv", "a\n"))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	body := h.page(t)
	assert.Contains(t, body, "Ocorreu um erro ao analisar o arquivo.")
	assert.Contains(t, body, "Arquivo: precos.csv")
	assert.NotContains(t, body, "data-refresh")

	rr = httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `webprice_http_submissions_total{dispatch="queue",result="backend_error"} 1`)
}

func TestStaleQueuedRunRecovers(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	enqueuer := &stubEnqueuer{}
	h := newHarness(t, &stubAnalyzer{}, func(cfg *workspace.Config) {
		cfg.Dispatch = workspace.DispatchQueue
		cfg.Enqueuer = enqueuer
		cfg.StaleAfter = time.Minute
		cfg.Clock = func() time.Time { return now }
	}, Options{})

	h.do(t, uploadRequest(t, "/analyze", "precos.csv", "a\n"))
	assert.Contains(t, h.page(t), "Analisando...")

	now = now.Add(5 * time.Minute)
	body := h.page(t)
	assert.Contains(t, body, "Ocorreu um erro ao analisar o arquivo.")
	assert.Contains(t, body, "Arquivo: precos.csv")
	assert.NotContains(t, body, "data-refresh")

	rr := h.do(t, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Len(t, enqueuer.sessions, 2)
	assert.Contains(t, h.page(t), `data-refresh="2"`)
}

func TestResetCancelsPendingRun(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{}, func(cfg *workspace.Config) {
		cfg.Dispatch = workspace.DispatchQueue
		cfg.Enqueuer = &stubEnqueuer{}
	}, Options{})

	h.do(t, uploadRequest(t, "/analyze", "precos.csv", "a\n"))
	rr := h.do(t, httptest.NewRequest(http.MethodPost, "/reset", nil))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	body := h.page(t)
	assert.Contains(t, body, "Clique para selecionar um arquivo")
	assert.NotContains(t, body, "Analisando...")
}

func TestExportCSV(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{report: decodeFlat(t)}, nil, Options{})

	rr := h.do(t, httptest.NewRequest(http.MethodGet, "/export.csv", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	h.do(t, uploadRequest(t, "/analyze", "precos.csv", "a\n"))

	rr = h.do(t, httptest.NewRequest(http.MethodGet, "/export.csv", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `precos-dados.csv`)
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "produto,preço_sugerido", lines[0])
	assert.Equal(t, "Caneta,19.9", lines[1])

	rr = h.do(t, httptest.NewRequest(http.MethodGet, "/export.csv?section=summary", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "Métrica,Valor\n"))
}

func TestExportPDF(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, &stubAnalyzer{}, nil, Options{})
		rr := h.do(t, httptest.NewRequest(http.MethodGet, "/export.pdf", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("renders dashboard", func(t *testing.T) {
		pdf := &stubPDF{}
		h := newHarness(t, &stubAnalyzer{report: decodeFlat(t)}, nil, Options{PDF: pdf})
		h.do(t, uploadRequest(t, "/analyze", "precos.csv", "a\n"))

		rr := h.do(t, httptest.NewRequest(http.MethodGet, "/export.pdf", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
		assert.Equal(t, "%PDF-1.7", rr.Body.String())
		assert.NotNil(t, pdf.data.Data)
	})

	t.Run("converter failure", func(t *testing.T) {
		pdf := &stubPDF{err: errors.New("gotenberg down")}
		h := newHarness(t, &stubAnalyzer{report: decodeFlat(t)}, nil, Options{PDF: pdf})
		h.do(t, uploadRequest(t, "/analyze", "precos.csv", "a\n"))

		rr := h.do(t, httptest.NewRequest(http.MethodGet, "/export.pdf", nil))
		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})
}

func TestSubmissionMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	h := newHarness(t, &stubAnalyzer{report: decodeFlat(t)}, nil, Options{Metrics: metrics})

	h.do(t, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	h.do(t, uploadRequest(t, "/analyze", "precos.csv", "a\n"))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	assert.Contains(t, body, `webprice_http_submissions_total{dispatch="inline",result="input_error"} 1`)
	assert.Contains(t, body, `webprice_http_submissions_total{dispatch="inline",result="success"} 1`)
	assert.Contains(t, body, "webprice_http_upload_bytes_count 1")
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "queued", resultLabel(nil, workspace.State{Phase: workspace.PhaseSubmitting}))
	assert.Equal(t, "success", resultLabel(nil, workspace.State{Phase: workspace.PhaseDisplaying}))
	assert.Equal(t, "input_error", resultLabel(workspace.ErrNoFileSelected, workspace.State{}))
	assert.Equal(t, "rejected", resultLabel(workspace.ErrBusy, workspace.State{}))
	assert.Equal(t, "backend_error", resultLabel(&analysis.UnreachableError{Host: "x"}, workspace.State{}))
	assert.Equal(t, "backend_error", resultLabel(fmt.Errorf("%w: %w", workspace.ErrEnqueue, errors.New("redis down")), workspace.State{}))
	assert.Equal(t, "error", resultLabel(errors.New("redis down"), workspace.State{}))
}

func TestExportName(t *testing.T) {
	assert.Equal(t, "precos-dados.csv", exportName("precos.csv", "dados", ".csv"))
	assert.Equal(t, "analise-dashboard.pdf", exportName("", "dashboard", ".pdf"))
}
