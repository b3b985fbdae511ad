package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/marketcore/internal/domain"
	"github.com/aristath/marketcore/internal/modules/orders"
)

// ============================================================================
// Orders
// ============================================================================

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.NewOrder
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if m, err := domain.ParseMarket(string(in.Market)); err == nil {
		in.Market = m
	}
	if err := in.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := s.container.OrderRepo.Create(r.Context(), in)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to create order")
		s.writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}
	s.writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.container.OrderRepo.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, orders.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

// handleListOrders lists orders in ?status= (default pending).
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := orders.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = orders.StatusPending
	}
	switch status {
	case orders.StatusPending, orders.StatusProcessing, orders.StatusFilled, orders.StatusFailed:
	default:
		s.writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := s.container.OrderRepo.ListByStatus(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleOrderCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.container.OrderRepo.CountByStatus(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

// ============================================================================
// Portfolio
// ============================================================================

func (s *Server) handleOpenPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.container.PortfolioRepo.OpenPositions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snaps, err := s.container.PortfolioRepo.RecentSnapshots(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.container.PortfolioRepo.LatestTotals(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if totals == nil {
		s.writeError(w, http.StatusNotFound, "no portfolio snapshot yet")
		return
	}
	s.writeJSON(w, http.StatusOK, totals)
}

// handleAlerts returns alerts raised in the last ?hours= hours (default 24).
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	alerts, err := s.container.PortfolioRepo.Alerts(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

// ============================================================================
// Predictions & reflection
// ============================================================================

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opps, err := s.container.PredictionRepo.Opportunities(r.Context(), r.URL.Query().Get("category"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"opportunities": opps,
		"count":         len(opps),
	})
}

func (s *Server) handleReflectionStats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 30)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var market domain.Market
	if raw := r.URL.Query().Get("market"); raw != "" {
		market, err = domain.ParseMarket(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	stats, err := s.container.ReflectionRepo.Performance(r.Context(), market, r.URL.Query().Get("symbol"), days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
