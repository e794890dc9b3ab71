package submission

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fieldscope/collect/pkg/common/logger"
	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/fieldscope/collect/pkg/entity"
	"github.com/fieldscope/collect/pkg/form"
	"github.com/fieldscope/collect/pkg/ledger"
	"github.com/fieldscope/collect/pkg/parser"
	"github.com/gorilla/mux"
)

type HTTPHandler struct {
	orchestrator *Orchestrator
	entries      *ledger.Repository
	maxBody      int64
}

func NewHTTPHandler(orchestrator *Orchestrator, entries *ledger.Repository, maxBody int64) *HTTPHandler {
	return &HTTPHandler{orchestrator: orchestrator, entries: entries, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/submissions", h.handleWeb).Methods(http.MethodPost)
	router.HandleFunc("/submissions/bulk", h.handleBulk).Methods(http.MethodPost)
	router.HandleFunc("/submissions/xforms", h.handleXForms).Methods(http.MethodPost)
	router.HandleFunc("/submissions/{id}", h.handleGet).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleWeb(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var values map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.orchestrator.Process(r.Context(), models.SubmissionRequest{
		Channel:    models.ChannelWeb,
		Source:     sourceOf(r),
		Values:     values,
		ReceivedAt: time.Now().UTC(),
	})
	h.respond(w, result, err)
}

func (h *HTTPHandler) handleBulk(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read upload", http.StatusBadRequest)
		return
	}

	var rows [][]string
	if isSpreadsheet(r.Header.Get("Content-Type")) {
		rows, err = parser.ReadXLSX(payload)
	} else {
		rows, err = parser.ReadCSV(strings.NewReader(string(payload)))
	}
	if err != nil {
		http.Error(w, "could not read upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	header, dataStart, err := parser.Header(rows)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	source := sourceOf(r)
	results := make([]*models.Result, 0, len(rows)-dataStart)
	for _, row := range rows[dataStart:] {
		if allBlank(row) {
			continue
		}
		result, err := h.orchestrator.Process(r.Context(), models.SubmissionRequest{
			Channel:    models.ChannelBulk,
			Source:     source,
			Header:     header,
			Row:        row,
			ReceivedAt: time.Now().UTC(),
		})
		if err != nil {
			result = &models.Result{Success: false, Errors: map[string]string{"row": err.Error()}}
		}
		results = append(results, result)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func (h *HTTPHandler) handleXForms(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read submission", http.StatusBadRequest)
		return
	}

	result, err := h.orchestrator.Process(r.Context(), models.SubmissionRequest{
		Channel:    models.ChannelXForms,
		Source:     sourceOf(r),
		XML:        payload,
		ReceivedAt: time.Now().UTC(),
	})
	h.respond(w, result, err)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, err := h.entries.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrEntryNotFound) {
			http.Error(w, "submission not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch ledger entry")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

func (h *HTTPHandler) respond(w http.ResponseWriter, result *models.Result, err error) {
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.Log.WithError(err).Error("failed to process submission")
			http.Error(w, "internal error", status)
			return
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !result.Success {
		w.WriteHeader(http.StatusUnprocessableEntity)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(result)
}

func statusFor(err error) int {
	switch {
	case parser.IsFormatError(err), parser.IsDuplicateFieldError(err), parser.IsHeaderError(err):
		return http.StatusBadRequest
	case errors.Is(err, form.ErrFormNotFound):
		return http.StatusNotFound
	case errors.Is(err, form.ErrFormInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, entity.ErrEntityNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrShortCodeTaken):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func sourceOf(r *http.Request) string {
	if source := r.Header.Get("X-Submission-Source"); source != "" {
		return source
	}
	return r.RemoteAddr
}

func isSpreadsheet(contentType string) bool {
	return strings.Contains(contentType, "spreadsheet") || strings.Contains(contentType, "excel")
}

func allBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
