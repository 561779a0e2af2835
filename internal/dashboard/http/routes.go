package dashboardhttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers the upload and dashboard endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/", h.handleIndex)
	r.Post("/select", h.handleSelect)
	r.Post("/analyze", h.handleAnalyze)
	r.Post("/reset", h.handleReset)
	r.Get("/status", h.handleStatus)
	r.Get("/export.csv", h.handleExportCSV)
	r.Get("/export.pdf", h.handleExportPDF)
}
