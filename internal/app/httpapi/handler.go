// Package httpapi exposes the roster operations over REST.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	app "github.com/quarterdeck-network/crew_layer/internal/app"
	"github.com/quarterdeck-network/crew_layer/internal/app/metrics"
	rostersvc "github.com/quarterdeck-network/crew_layer/internal/app/services/roster"
	"github.com/quarterdeck-network/crew_layer/internal/middleware"
)

// defaultEventLimit bounds GET /roster/events responses.
const defaultEventLimit = 50

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the roster REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/roster/onboard", h.onboard)
	mux.HandleFunc("/roster/offboard", h.offboard)
	mux.HandleFunc("/roster/quarter", h.quarter)
	mux.HandleFunc("/roster/events", h.events)
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

type batchRequest struct {
	Members []string `json:"members"`
}

func (h *handler) onboard(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.app.Roster.Onboard)
}

func (h *handler) offboard(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.app.Roster.Offboard)
}

func (h *handler) quarter(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.app.Roster.Quarter)
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request, op app.RosterOp) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload batchRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(payload.Members) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("members is required"))
		return
	}

	caller := middleware.Principal(r.Context())
	batch, err := op(r.Context(), caller, payload.Members)
	if err != nil {
		if errors.Is(err, rostersvc.ErrNotAuthorized) {
			writeError(w, http.StatusForbidden, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	writeJSON(w, http.StatusOK, h.app.Events.Recent(limit))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
