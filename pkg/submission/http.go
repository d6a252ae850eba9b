package submission

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coursegrader/platform/pkg/common/logger"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// HTTPHandler exposes read-only submission status for operators.
type HTTPHandler struct {
	repo *Repository
}

func NewHTTPHandler(repo *Repository) *HTTPHandler {
	return &HTTPHandler{repo: repo}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/submissions", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/submissions/{id}", h.handleGet).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		http.Error(w, "invalid submission id", http.StatusBadRequest)
		return
	}

	sub, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "submission not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch submission")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sub)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	state := State(r.URL.Query().Get("state"))
	if state == "" {
		http.Error(w, "state query parameter required", http.StatusBadRequest)
		return
	}

	subs, err := h.repo.ListByState(r.Context(), state)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list submissions")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subs)
}
