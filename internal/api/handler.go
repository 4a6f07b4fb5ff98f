package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"traffic-router/internal/engine"
	"traffic-router/internal/observability"
	"traffic-router/internal/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

type Handler struct {
	Store storage.Store
	Eng   *engine.DecisionEngine
}

func NewHandler(store storage.Store, eng *engine.DecisionEngine) *Handler {
	return &Handler{Store: store, Eng: eng}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// UpsertTarget stores the full record keyed by id, replacing any prior value.
func (h *Handler) UpsertTarget(w http.ResponseWriter, r *http.Request) {
	var t engine.Target
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		observability.RequestErrors.WithLabelValues("validation").Inc()
		writeError(w, http.StatusBadRequest, "invalid target payload")
		return
	}
	if t.ID == "" {
		observability.RequestErrors.WithLabelValues("validation").Inc()
		writeError(w, http.StatusBadRequest, "target id is required")
		return
	}
	if err := h.Store.Upsert(r.Context(), t); err != nil {
		h.storeFailure(w, r, "upsert target", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.Store.List(r.Context())
	if err != nil {
		h.storeFailure(w, r, "list targets", err)
		return
	}
	if targets == nil {
		targets = []engine.Target{}
	}
	writeJSON(w, http.StatusOK, targets)
}

func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.Store.Get(r.Context(), id)
	if errors.Is(err, engine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}
	if err != nil {
		h.storeFailure(w, r, "get target", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Decide runs the engine for one visitor. A reject is reported with a 503
// status; that mapping is part of the wire contract inherited from the
// original service.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var v engine.Visitor
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		observability.RequestErrors.WithLabelValues("validation").Inc()
		writeError(w, http.StatusBadRequest, "invalid visitor payload")
		return
	}
	if v.GeoState == "" || v.Timestamp.IsZero() {
		observability.RequestErrors.WithLabelValues("validation").Inc()
		writeError(w, http.StatusBadRequest, "visitor geoState and timestamp are required")
		return
	}

	start := time.Now()
	d, err := h.Eng.Decide(r.Context(), v)
	observability.DecideDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		h.storeFailure(w, r, "decide", err)
		return
	}
	if !d.Accepted {
		observability.DecisionsTotal.WithLabelValues("reject").Inc()
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"decision": "reject"})
		return
	}
	observability.DecisionsTotal.WithLabelValues("accept").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"decision": "accept", "url": d.URL})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("health: store ping failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "version": Version})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "version": Version})
}

func (h *Handler) storeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	observability.RequestErrors.WithLabelValues("store").Inc()
	log.Error().Err(err).
		Str("request_id", chimw.GetReqID(r.Context())).
		Str("op", op).
		Msg("store failure")
	writeError(w, http.StatusServiceUnavailable, "service unavailable")
}
