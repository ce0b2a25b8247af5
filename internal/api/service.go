// Package api exposes the balance engine over HTTP. Handlers are thin: they
// decode, validate and delegate to the engine.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/balance-engine/internal/engine"
	"github.com/atmx/balance-engine/internal/model"
)

// Service holds the HTTP handlers.
type Service struct {
	engine *engine.Engine
}

// NewService creates a new API service.
func NewService(e *engine.Engine) *Service {
	return &Service{engine: e}
}

// Routes mounts every handler on r, relative to /api/v1. The notification
// websocket is mounted separately so it stays outside request timeouts.
func (s *Service) Routes(r chi.Router) {
	r.Post("/usage", s.RecordUsage)
	r.Post("/transactions", s.ReportTransaction)
	r.Post("/industry", s.ReportIndustry)

	r.Route("/factions/{factionID}", func(r chi.Router) {
		r.Get("/power", s.GetPower)
		r.Get("/economy", s.GetEconomy)
		r.Get("/warfare", s.GetWarfare)
		r.Get("/recommendations", s.GetRecommendations)
		r.Put("/treasury", s.SetTreasury)
		r.Delete("/", s.RemoveFaction)
	})

	r.Get("/regions/{regionID}/prices/{classID}", s.GetPrice)
	r.Get("/stability/{classID}", s.GetStability)
	r.Get("/population", s.GetPopulation)
	r.Get("/stats", s.GetStats)
}

// --- Request/Response types ---

// UsageRequest is the JSON body for POST /usage.
type UsageRequest struct {
	FactionID string `json:"faction_id"`
	ClassID   string `json:"class_id"` // namespace:item
	Delta     int64  `json:"delta"`    // negative releases usage
}

// TransactionRequest is the JSON body for POST /transactions.
type TransactionRequest struct {
	RegionID string `json:"region_id"`
	ClassID  string `json:"class_id"`
	Amount   int64  `json:"amount"`
	Side     string `json:"side"` // "supply" or "demand"
}

// TreasuryRequest is the JSON body for PUT /factions/{factionID}/treasury.
type TreasuryRequest struct {
	Treasury float64 `json:"treasury"`
}

// PowerResponse is returned from GET /factions/{factionID}/power.
type PowerResponse struct {
	FactionID      string               `json:"faction_id"`
	Power          float64              `json:"power"`
	BalancedScore  float64              `json:"balanced_score"`
	Classification model.Classification `json:"classification"`
	Compliant      bool                 `json:"compliant"`
	UsageCount     map[string]int64     `json:"usage_count"`
}

// PriceResponse is returned from GET /regions/{regionID}/prices/{classID}.
type PriceResponse struct {
	RegionID  string          `json:"region_id"`
	ClassID   string          `json:"class_id"`
	Price     float64         `json:"price"`
	Stability model.Stability `json:"stability"`
}

// --- HTTP Handlers ---

// RecordUsage handles POST /api/v1/usage
func (s *Service) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req UsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Delta == 0 {
		writeError(w, "delta must be non-zero", http.StatusBadRequest)
		return
	}

	rec, err := s.engine.RecordUsage(req.FactionID, req.ClassID, req.Delta)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ReportTransaction handles POST /api/v1/transactions
func (s *Service) ReportTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var isSupply bool
	switch req.Side {
	case "supply":
		isSupply = true
	case "demand":
	default:
		writeError(w, "side must be supply or demand", http.StatusBadRequest)
		return
	}

	if err := s.engine.ReportTransaction(req.RegionID, req.ClassID, req.Amount, isSupply); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// ReportIndustry handles POST /api/v1/industry
func (s *Service) ReportIndustry(w http.ResponseWriter, r *http.Request) {
	var req model.IndustryReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	stats, err := s.engine.ReportIndustry(req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.View())
}

// GetPower handles GET /api/v1/factions/{factionID}/power
func (s *Service) GetPower(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "factionID")
	resp := PowerResponse{
		FactionID:      id,
		Power:          s.engine.GetPower(id),
		BalancedScore:  s.engine.BalancedScore(id),
		Classification: s.engine.Classify(id),
		Compliant:      s.engine.IsCompliant(id),
		UsageCount:     map[string]int64{},
	}
	if rec, ok := s.engine.Usage(id); ok {
		resp.UsageCount = rec.UsageCount
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetEconomy handles GET /api/v1/factions/{factionID}/economy
func (s *Service) GetEconomy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "factionID")
	writeJSON(w, http.StatusOK, s.engine.GetEconomicStatistics(id).View())
}

// GetWarfare handles GET /api/v1/factions/{factionID}/warfare
func (s *Service) GetWarfare(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Warfare(chi.URLParam(r, "factionID")))
}

// GetRecommendations handles GET /api/v1/factions/{factionID}/recommendations
func (s *Service) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "factionID")
	writeJSON(w, http.StatusOK, map[string]any{
		"faction_id":      id,
		"recommendations": s.engine.Recommendations(id),
	})
}

// SetTreasury handles PUT /api/v1/factions/{factionID}/treasury
func (s *Service) SetTreasury(w http.ResponseWriter, r *http.Request) {
	var req TreasuryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "factionID")
	if err := s.engine.SetTreasury(id, req.Treasury); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"faction_id": id, "treasury": req.Treasury})
}

// RemoveFaction handles DELETE /api/v1/factions/{factionID}
func (s *Service) RemoveFaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "factionID")
	if err := s.engine.RemoveFaction(r.Context(), id); err != nil {
		if errors.Is(err, engine.ErrInvalidArgument) {
			writeEngineError(w, err)
			return
		}
		// In-memory state is gone; the stored copy will be pruned by the next save.
		slog.Warn("faction removed with persistence errors", "faction", id, "err", err)
	}
	slog.Info("faction removed", "faction", id)
	w.WriteHeader(http.StatusNoContent)
}

// GetPrice handles GET /api/v1/regions/{regionID}/prices/{classID}
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	regionID := chi.URLParam(r, "regionID")
	classID := chi.URLParam(r, "classID")
	writeJSON(w, http.StatusOK, PriceResponse{
		RegionID:  regionID,
		ClassID:   classID,
		Price:     s.engine.GetPrice(regionID, classID),
		Stability: s.engine.GetStability(classID),
	})
}

// GetStability handles GET /api/v1/stability/{classID}
func (s *Service) GetStability(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetStability(chi.URLParam(r, "classID")))
}

// GetPopulation handles GET /api/v1/population
func (s *Service) GetPopulation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Population())
}

// GetStats handles GET /api/v1/stats
func (s *Service) GetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GlobalStats())
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, engine.ErrReadOnlyRegistry):
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	slog.Error("request failed", "err", err)
	writeError(w, "internal error", http.StatusInternalServerError)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
