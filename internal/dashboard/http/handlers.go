package dashboardhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/webprice/webprice-analyzer/internal/analysis"
	"github.com/webprice/webprice-analyzer/internal/dashboard"
	"github.com/webprice/webprice-analyzer/internal/dashboard/export"
	"github.com/webprice/webprice-analyzer/internal/dashboard/svg"
	"github.com/webprice/webprice-analyzer/internal/locale"
	"github.com/webprice/webprice-analyzer/internal/observability"
	"github.com/webprice/webprice-analyzer/internal/platform/httpx"
	"github.com/webprice/webprice-analyzer/internal/shared"
	"github.com/webprice/webprice-analyzer/internal/view"
	"github.com/webprice/webprice-analyzer/internal/workspace"
)

const (
	uploadTemplate    = "pages/upload.html"
	dashboardTemplate = "pages/dashboard.html"

	busyMessage       = "Uma análise já está em andamento."
	displayingMessage = "Reinicie a análise para enviar um novo arquivo."

	refreshSeconds = 2
)

// Controller is the workspace behaviour the handler drives.
type Controller interface {
	State(ctx context.Context, sessionID string) (workspace.State, error)
	SelectFile(ctx context.Context, sessionID string, upload analysis.Upload) (workspace.State, error)
	Submit(ctx context.Context, sessionID string) (workspace.State, error)
	Reset(ctx context.Context, sessionID string) (workspace.State, error)
	Dispatch() workspace.Dispatch
	MaxUploadBytes() int64
}

// PDFRenderer converts the print layout into a PDF document.
type PDFRenderer interface {
	Render(ctx context.Context, data view.TemplateData) ([]byte, error)
}

// Handler serves the upload and dashboard screens.
type Handler struct {
	logger     *slog.Logger
	controller Controller
	templates  *view.Engine
	csrf       *shared.CSRFManager
	metrics    *observability.Metrics
	pdf        PDFRenderer
	formatter  *locale.Formatter
	chart      dashboard.ChartFunc
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	Metrics *observability.Metrics
	PDF     PDFRenderer
}

type uploadPage struct {
	State workspace.State
	// Refresh is the reload interval in seconds while a queued run is pending.
	Refresh int
}

type statusResponse struct {
	Phase    workspace.Phase `json:"phase"`
	FileName string          `json:"file_name,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// NewHandler builds the dashboard handler.
func NewHandler(logger *slog.Logger, controller Controller, templates *view.Engine, csrf *shared.CSRFManager, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	formatter := locale.Brazilian()
	return &Handler{
		logger:     logger,
		controller: controller,
		templates:  templates,
		csrf:       csrf,
		metrics:    opts.Metrics,
		pdf:        opts.PDF,
		formatter:  formatter,
		chart: func(values []float64, labels []string) (template.HTML, error) {
			return svg.Bars(svg.DefaultWidth, values, labels, svg.BarOpts{
				Title:       "Importância das Features",
				Description: "Peso relativo de cada variável no modelo",
				FormatValue: func(v float64) string { return formatter.Percent(v * 100) },
			})
		},
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil || h.controller == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	state, err := h.controller.State(r.Context(), workspaceID(sess))
	if err != nil {
		h.handleServerError(w, "load workspace", err)
		return
	}

	if state.Displaying() {
		vm, err := dashboard.Build(*state.Report, h.formatter, h.chart)
		if err != nil {
			h.handleServerError(w, "build dashboard", err)
			return
		}
		vm.AnalyzedAt = state.UpdatedAt
		h.render(w, r, sess, dashboardTemplate, "Dashboard de Análise", vm)
		return
	}

	page := uploadPage{State: state}
	if state.Submitting() && h.controller.Dispatch() == workspace.DispatchQueue {
		page.Refresh = refreshSeconds
	}
	h.render(w, r, sess, uploadTemplate, "Analisar Preços", page)
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	upload, _, err := h.readUpload(w, r)
	if err != nil {
		h.handleRequestError(w, err)
		return
	}
	h.metrics.ObserveUpload(len(upload.Content))

	_, err = h.controller.SelectFile(r.Context(), workspaceID(sess), upload)
	switch {
	case err == nil, workspace.IsInputError(err):
	case errors.Is(err, workspace.ErrBusy):
		addFlash(sess, "warning", busyMessage)
	case errors.Is(err, workspace.ErrAlreadyDisplaying):
		addFlash(sess, "info", displayingMessage)
	default:
		h.handleServerError(w, "select file", err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	id := workspaceID(sess)
	dispatch := string(h.controller.Dispatch())

	upload, present, err := h.readUpload(w, r)
	if err != nil {
		h.handleRequestError(w, err)
		return
	}
	if present {
		h.metrics.ObserveUpload(len(upload.Content))
		if _, err := h.controller.SelectFile(r.Context(), id, upload); err != nil {
			if !workspace.IsInputError(err) && !errors.Is(err, workspace.ErrBusy) && !errors.Is(err, workspace.ErrAlreadyDisplaying) {
				h.handleServerError(w, "select file", err)
				return
			}
			h.metrics.CountSubmission(dispatch, resultLabel(err, workspace.State{}))
			h.flashRejection(sess, err)
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	}

	state, err := h.controller.Submit(r.Context(), id)
	result := resultLabel(err, state)
	h.metrics.CountSubmission(dispatch, result)
	if result == "error" {
		h.handleServerError(w, "submit analysis", err)
		return
	}
	h.flashRejection(sess, err)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if _, err := h.controller.Reset(r.Context(), workspaceID(sess)); err != nil {
		h.handleServerError(w, "reset workspace", err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	state, err := h.controller.State(r.Context(), workspaceID(sess))
	if err != nil {
		h.logger.Error("load workspace", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse{
		Phase:    state.Phase,
		FileName: state.FileName,
		Error:    state.Error,
	})
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	state, ok := h.displayedState(w, r)
	if !ok {
		return
	}
	write := export.WriteTableCSV
	suffix := "dados"
	if r.URL.Query().Get("section") == "summary" {
		write = export.WriteSummaryCSV
		suffix = "resumo"
	}
	var buf bytes.Buffer
	if err := write(&buf, *state.Report); err != nil {
		h.logger.Error("export csv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(state.Report.Source, suffix, ".csv")))
	_, _ = buf.WriteTo(w)
}

func (h *Handler) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	if h.pdf == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "pdf export disabled")
		return
	}
	state, ok := h.displayedState(w, r)
	if !ok {
		return
	}
	vm, err := dashboard.Build(*state.Report, h.formatter, h.chart)
	if err != nil {
		h.logger.Error("build dashboard", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	vm.AnalyzedAt = state.UpdatedAt
	pdf, err := h.pdf.Render(r.Context(), view.TemplateData{Title: "Dashboard de Análise", Data: vm})
	if err != nil {
		h.logger.Error("export pdf", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(state.Report.Source, "dashboard", ".pdf")))
	_, _ = w.Write(pdf)
}

func (h *Handler) displayedState(w http.ResponseWriter, r *http.Request) (workspace.State, bool) {
	sess := shared.SessionFromContext(r.Context())
	state, err := h.controller.State(r.Context(), workspaceID(sess))
	if err != nil {
		h.logger.Error("load workspace", slog.Any("error", err))
		httpx.RespondError(w, err)
		return workspace.State{}, false
	}
	if !state.Displaying() {
		httpx.RespondError(w, fmt.Errorf("%w: no analysis displayed", httpx.ErrNotFound))
		return workspace.State{}, false
	}
	return state, true
}

// readUpload extracts the "file" part. present is false when the request
// carries no file part at all.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (analysis.Upload, bool, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return analysis.Upload{}, false, nil
	}
	limit := h.controller.MaxUploadBytes()
	if r.MultipartForm == nil {
		r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
		if err := r.ParseMultipartForm(limit + formOverhead); err != nil {
			return analysis.Upload{}, false, err
		}
	}
	file, header, err := r.FormFile(analysis.FileField)
	if errors.Is(err, http.ErrMissingFile) {
		return analysis.Upload{}, false, nil
	}
	if err != nil {
		return analysis.Upload{}, false, err
	}
	defer file.Close()

	// One byte past the limit is enough for the controller to reject it.
	content, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return analysis.Upload{}, false, err
	}
	return analysis.Upload{Name: filepath.Base(header.Filename), Content: content}, true, nil
}

const formOverhead = 1 << 20

func (h *Handler) render(w http.ResponseWriter, r *http.Request, sess *shared.Session, name, title string, data any) {
	var token string
	if h.csrf != nil && sess != nil {
		var err error
		token, err = h.csrf.EnsureToken(sess)
		if err != nil {
			h.handleServerError(w, "issue csrf token", err)
			return
		}
	}
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	payload := view.TemplateData{
		Title:       title,
		CSRFToken:   token,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if err := h.templates.Render(w, name, payload); err != nil {
		h.handleServerError(w, "render template", err)
	}
}

func (h *Handler) flashRejection(sess *shared.Session, err error) {
	switch {
	case errors.Is(err, workspace.ErrBusy):
		addFlash(sess, "warning", busyMessage)
	case errors.Is(err, workspace.ErrAlreadyDisplaying):
		addFlash(sess, "info", displayingMessage)
	}
}

func (h *Handler) handleRequestError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrTooLarge, err))
		return
	}
	h.logger.Warn("read upload", slog.Any("error", err))
	httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
}

func (h *Handler) handleServerError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// resultLabel classifies a submission for metrics. "error" means the
// workspace itself failed and the request cannot continue.
func resultLabel(err error, state workspace.State) string {
	switch {
	case err == nil && state.Submitting():
		return "queued"
	case err == nil:
		return "success"
	case workspace.IsInputError(err):
		return "input_error"
	case errors.Is(err, workspace.ErrBusy), errors.Is(err, workspace.ErrAlreadyDisplaying), errors.Is(err, workspace.ErrNotSubmitting):
		return "rejected"
	case state.Error == workspace.BackendErrorMessage, errors.Is(err, workspace.ErrEnqueue), isBackendError(err):
		return "backend_error"
	default:
		return "error"
	}
}

func isBackendError(err error) bool {
	var status *analysis.StatusError
	var unreachable *analysis.UnreachableError
	return errors.As(err, &status) || errors.As(err, &unreachable) || analysis.IsMalformed(err)
}

func addFlash(sess *shared.Session, kind, message string) {
	if sess == nil {
		return
	}
	sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
}

// workspaceID returns the workspace bound to the visitor's session.
func workspaceID(sess *shared.Session) string {
	if sess == nil {
		return ""
	}
	return sess.WorkspaceID()
}

func exportName(source, suffix, ext string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if base == "" || base == "." || base == "/" {
		base = "analise"
	}
	return base + "-" + suffix + ext
}
