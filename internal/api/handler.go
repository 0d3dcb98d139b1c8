package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/rpattn/datalab/internal/assembler"
	"github.com/rpattn/datalab/internal/domain"
	"github.com/rpattn/datalab/internal/export"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// StatusClientClosedRequest is reported when the caller went away mid-request.
const StatusClientClosedRequest = 499

const maxRequestBody = 1 << 20

// DatalabService is what the HTTP surface needs from the datalab service.
type DatalabService interface {
	Data(ctx context.Context, id string) (assembler.Result, error)
	Columns(ctx context.Context, id string) ([]domain.Column, error)
	Query(ctx context.Context, id string, spec domain.QuerySpec) (domain.QueryResult, error)
	Export(ctx context.Context, id string, spec domain.QuerySpec, w io.Writer) (export.Summary, error)
	Name(ctx context.Context, id string) (string, error)
}

// Handler serves datalab data, columns and queries as JSON.
type Handler struct {
	service DatalabService
	logger  *slog.Logger
}

// NewHandler constructs the HTTP handler. A nil logger discards output.
func NewHandler(service DatalabService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the handler on a new router. middlewares run before every route.
func (h *Handler) Routes(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middlewares...)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/datalabs/{id}", func(r chi.Router) {
		r.Get("/data", h.data)
		r.Get("/columns", h.columns)
		r.Post("/query", h.query)
		r.Get("/csv", h.exportCSV)
		r.Post("/csv", h.exportCSV)
	})
	return r
}

type formulaFailure struct {
	Field string `json:"field"`
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type dataResponse struct {
	Columns         []string         `json:"columns"`
	Records         []domain.Record  `json:"records"`
	Lineage         domain.Lineage   `json:"lineage"`
	FormulaFailures []formulaFailure `json:"formulaFailures,omitempty"`
}

func (h *Handler) data(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Data(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := dataResponse{
		Columns: result.Relation.Columns,
		Records: result.Relation.Records,
		Lineage: result.Lineage,
	}
	if resp.Records == nil {
		resp.Records = []domain.Record{}
	}
	for _, failure := range result.FormulaFailures {
		resp.FormulaFailures = append(resp.FormulaFailures, formulaFailure{
			Field: failure.Field,
			Row:   failure.Row,
			Error: failure.Err.Error(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) columns(w http.ResponseWriter, r *http.Request) {
	columns, err := h.service.Columns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if columns == nil {
		columns = []domain.Column{}
	}
	writeJSON(w, http.StatusOK, columns)
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	spec, err := decodeQuerySpec(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.service.Query(r.Context(), chi.URLParam(r, "id"), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// exportCSV answers with every row matching the optional query body as a
// CSV attachment.
func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	spec, err := decodeQuerySpec(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	name, err := h.service.Name(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if _, err := h.service.Export(r.Context(), id, spec, &buf); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(name)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// decodeQuerySpec reads a query request body. An empty body is the zero spec.
func decodeQuerySpec(body io.Reader) (domain.QuerySpec, error) {
	var spec domain.QuerySpec
	if err := json.NewDecoder(body).Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return domain.QuerySpec{}, &domain.MalformedQuerySpecError{Reason: fmt.Sprintf("invalid request body: %v", err)}
	}
	return spec, nil
}

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	var (
		unresolved *domain.UnresolvedReferenceError
		cyclic     *domain.CyclicPipelineError
		unknown    *domain.UnknownColumnError
		malformed  *domain.MalformedQuerySpecError
	)
	switch {
	case errors.As(err, &cyclic):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unresolved), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &malformed), errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
