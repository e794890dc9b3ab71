package form

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/fieldscope/collect/pkg/common/logger"
	"github.com/gorilla/mux"
)

type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/forms", h.handleSave).Methods(http.MethodPost)
	router.HandleFunc("/forms", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/forms/{code}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/forms/{code}", h.handleDelete).Methods(http.MethodDelete)
}

func (h *HTTPHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var def FormDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Save(r.Context(), &def); err != nil {
		logger.Log.WithError(err).WithField("form_code", def.FormCode).Warn("failed to save form definition")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(def)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	defs, err := h.service.List(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list form definitions")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(defs)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	def, err := h.service.Resolve(r.Context(), code)
	if err != nil {
		if errors.Is(err, ErrFormNotFound) {
			http.Error(w, "form not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to resolve form definition")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(def)
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if err := h.service.Delete(r.Context(), code); err != nil {
		logger.Log.WithError(err).Error("failed to delete form definition")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
