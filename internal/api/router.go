package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pnp-exchange/mentions-bot/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Mentions is the backfill trigger behind GET /mentions.
type Mentions interface {
	FetchRecentMentions(ctx context.Context, save bool) *models.OutputDocument
	GetStatus() string
}

// RowStore serves the stored-row lookups. Only store-backed deployments
// have one.
type RowStore interface {
	GetByID(ctx context.Context, id int64) (*models.StoredRow, error)
	GetRange(ctx context.Context, from, to int64) ([]models.StoredRow, error)
}

type errorBody struct {
	Error string `json:"error"`
}

// NewRouter builds the HTTP surface. rows may be nil, in which case the
// /mentions/data routes are not registered.
func NewRouter(mentions Mentions, rows RowStore, gatherer prometheus.Gatherer) *mux.Router {
	h := &handlers{mentions: mentions, rows: rows}

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/status", h.status).Methods(http.MethodGet)
	router.HandleFunc("/mentions", h.recentMentions).Methods(http.MethodGet)

	if rows != nil {
		router.HandleFunc("/mentions/data/{id}", h.rowByID).Methods(http.MethodGet)
		router.HandleFunc("/mentions/data", h.rowRange).Methods(http.MethodGet)
	}

	return router
}

type handlers struct {
	mentions Mentions
	rows     RowStore
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(h.mentions.GetStatus()))
}

func (h *handlers) recentMentions(w http.ResponseWriter, r *http.Request) {
	save := r.URL.Query().Get("save") == "true"
	writeJSON(w, h.mentions.FetchRecentMentions(r.Context(), save))
}

func (h *handlers) rowByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, errorBody{Error: "Invalid id"})
		return
	}

	row, err := h.rows.GetByID(r.Context(), id)
	if err != nil {
		logrus.Errorf("Failed to load stored row %d: %v", id, err)
		writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: "Internal error"})
		return
	}
	if row == nil {
		writeJSON(w, struct{}{})
		return
	}

	writeJSON(w, row.Payload)
}

func (h *handlers) rowRange(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	fromRaw, toRaw := query.Get("from"), query.Get("to")
	if fromRaw == "" || toRaw == "" {
		writeJSON(w, errorBody{Error: "Missing from/to query params"})
		return
	}

	from, errFrom := strconv.ParseInt(fromRaw, 10, 64)
	to, errTo := strconv.ParseInt(toRaw, 10, 64)
	if errFrom != nil || errTo != nil {
		writeJSON(w, errorBody{Error: "Invalid from/to"})
		return
	}

	rows, err := h.rows.GetRange(r.Context(), from, to)
	if err != nil {
		logrus.Errorf("Failed to load stored rows %d..%d: %v", from, to, err)
		writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: "Internal error"})
		return
	}

	payloads := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, row.Payload)
	}
	writeJSON(w, payloads)
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	writeJSONStatus(w, http.StatusOK, body)
}

func writeJSONStatus(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}
