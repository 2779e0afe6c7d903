package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"ad-eligibility-engine/internal/engine"
	"ad-eligibility-engine/internal/observability"
	"ad-eligibility-engine/internal/storage"
)

// EventRecorder persists ad events. Implemented by storage.Store and storage.RedisStore.
type EventRecorder interface {
	InsertEvent(ctx context.Context, e *engine.AdEvent) (bool, error)
}

type EligibilityHandler struct {
	Svc    *engine.Service
	Cache  *storage.Cache
	Events EventRecorder
	Now    func() time.Time
}

func NewEligibilityHandler(svc *engine.Service, cache *storage.Cache, events EventRecorder) *EligibilityHandler {
	return &EligibilityHandler{Svc: svc, Cache: cache, Events: events, Now: time.Now}
}

type eligibilityRequest struct {
	Now       *time.Time          `json:"now,omitempty"`
	Creatives []engine.CreativeAd `json:"creatives"`
}

type eligibilityResponse struct {
	EvaluatedAt time.Time                  `json:"evaluated_at"`
	Reports     []engine.EligibilityReport `json:"reports"`
}

type eventResponse struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// Evaluate handles POST /v1/eligibility with caller-supplied creatives.
func (h *EligibilityHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req eligibilityRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	now := h.Now()
	if req.Now != nil {
		now = *req.Now
	}
	h.evaluate(w, req.Creatives, now)
}

// EvaluateCatalog handles GET /v1/eligibility against the cached creative catalog.
func (h *EligibilityHandler) EvaluateCatalog(w http.ResponseWriter, r *http.Request) {
	now := h.Now()
	if s := r.URL.Query().Get("now"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "now must be RFC3339")
			return
		}
		now = t
	}
	var creatives []engine.CreativeAd
	if h.Cache != nil {
		creatives = h.Cache.GetCreatives()
	}
	h.evaluate(w, creatives, now)
}

func (h *EligibilityHandler) evaluate(w http.ResponseWriter, creatives []engine.CreativeAd, now time.Time) {
	start := time.Now()
	reports, err := h.Svc.EvaluateAll(creatives, now)
	if err != nil {
		if errors.Is(err, engine.ErrZeroNow) {
			writeError(w, http.StatusBadRequest, "now must be a non-zero RFC3339 instant")
			return
		}
		log.Error().Err(err).Msg("eligibility pass failed")
		writeError(w, http.StatusInternalServerError, "eligibility pass failed")
		return
	}

	eligible := 0
	for _, rep := range reports {
		if rep.Eligible {
			eligible++
		}
	}
	observability.ObservePass(time.Since(start), eligible, len(reports)-eligible)

	if reports == nil {
		reports = []engine.EligibilityReport{}
	}
	writeJSON(w, http.StatusOK, eligibilityResponse{EvaluatedAt: now, Reports: reports})
}

// RecordEvent handles POST /v1/events.
func (h *EligibilityHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not configured")
		return
	}
	var e engine.AdEvent
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	inserted, err := h.Events.InsertEvent(r.Context(), &e)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("creative_id", e.CreativeID).Msg("record event")
		writeError(w, http.StatusInternalServerError, "could not record event")
		return
	}
	if !inserted {
		writeJSON(w, http.StatusOK, eventResponse{ID: e.ID, Duplicate: true})
		return
	}
	writeJSON(w, http.StatusCreated, eventResponse{ID: e.ID})
}
