package http

import (
	"errors"
	"net/http"
	"time"

	"greenledger/internal/compliance/infrastructure/memory"
	"greenledger/internal/compliance/interfaces"
	"greenledger/internal/observability/metrics"
)

// ExportHandler serves compliance reports in CSV, XLSX and PDF.
type ExportHandler struct {
	store *memory.Store
}

// NewExportHandler constructs an export handler.
func NewExportHandler(store *memory.Store) (*ExportHandler, error) {
	if store == nil {
		return nil, errors.New("export handler: nil store")
	}
	return &ExportHandler{store: store}, nil
}

// ServeHTTP handles GET /api/v1/exports/*.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/api/v1/exports/violations.csv":
		h.export(w, r, "csv")
	case "/api/v1/exports/violations.xlsx":
		h.export(w, r, "xlsx")
	case "/api/v1/exports/report.pdf":
		h.export(w, r, "pdf")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *ExportHandler) export(w http.ResponseWriter, r *http.Request, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport(format, result, time.Since(start))
	}()

	filter := memory.ViolationFilter{PlantID: r.URL.Query().Get("plant_id")}
	violations, err := h.store.ListViolations(r.Context(), filter)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	scores, err := h.store.LatestScores(r.Context())
	if err != nil {
		result = metrics.ResultError
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var data []byte
	var contentType string
	switch format {
	case "csv":
		data, err = interfaces.BuildViolationsCSV(violations)
		contentType = "text/csv"
	case "xlsx":
		data, err = interfaces.BuildViolationsXLSX(violations, scores)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		data, err = interfaces.BuildViolationsPDF(violations, scores, time.Now().UTC())
		contentType = "application/pdf"
	}
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export "+format+" error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
