package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	compliance "greenledger/internal/compliance/domain"
	"greenledger/internal/compliance/infrastructure/memory"
	"greenledger/internal/streaming"
)

const timeLayout = time.RFC3339

// AggregateSource exposes the engine's live and retained windows.
type AggregateSource interface {
	Snapshots() []streaming.WindowSnapshot
}

// Handler provides the compliance query endpoints.
type Handler struct {
	store      *memory.Store
	aggregates AggregateSource
}

// NewHandler constructs a handler.
func NewHandler(store *memory.Store, aggregates AggregateSource) (*Handler, error) {
	if store == nil {
		return nil, errors.New("compliance handler: nil store")
	}
	if aggregates == nil {
		return nil, errors.New("compliance handler: nil aggregate source")
	}
	return &Handler{store: store, aggregates: aggregates}, nil
}

// ServeHTTP handles the /api/v1 read routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/api/v1/violations":
		h.handleViolations(w, r)
	case "/api/v1/scores":
		h.handleScores(w, r)
	case "/api/v1/aggregates":
		h.handleAggregates(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleViolations(w http.ResponseWriter, r *http.Request) {
	filter := memory.ViolationFilter{
		PlantID: r.URL.Query().Get("plant_id"),
		Rule:    r.URL.Query().Get("rule"),
	}
	if raw := r.URL.Query().Get("min_severity"); raw != "" {
		severity := compliance.Severity(raw)
		if !severity.Valid() {
			http.Error(w, "min_severity must be LOW, MEDIUM, HIGH or CRITICAL", http.StatusBadRequest)
			return
		}
		filter.MinSeverity = severity
	}
	var err error
	if filter.From, err = optionalTimeQuery(r, "from"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if filter.To, err = optionalTimeQuery(r, "to"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	list, err := h.store.ListViolations(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

func (h *Handler) handleScores(w http.ResponseWriter, r *http.Request) {
	if plantID := r.URL.Query().Get("plant_id"); plantID != "" {
		score, err := h.store.ScoreByPlant(r.Context(), plantID)
		if err != nil {
			if errors.Is(err, compliance.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, score)
		return
	}
	scores, err := h.store.LatestScores(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, scores)
}

func (h *Handler) handleAggregates(w http.ResponseWriter, r *http.Request) {
	windowName := r.URL.Query().Get("window")
	plantID := r.URL.Query().Get("plant_id")
	status := r.URL.Query().Get("status")
	if status != "" && status != streaming.StatusOpen && status != streaming.StatusClosed {
		http.Error(w, "status must be open or closed", http.StatusBadRequest)
		return
	}

	all := h.aggregates.Snapshots()
	out := make([]streaming.WindowSnapshot, 0, len(all))
	for _, snap := range all {
		if windowName != "" && snap.Window.Spec != windowName {
			continue
		}
		if plantID != "" && snap.Window.PlantID != plantID {
			continue
		}
		if status != "" && snap.Status != status {
			continue
		}
		out = append(out, snap)
	}
	respondJSON(w, out)
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func optionalTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
