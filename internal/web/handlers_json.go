package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	label := s.status.Status().Label
	pos, err := s.execution.FindPosition(r.Context(), label)
	if err != nil {
		s.logger.Error("Failed to find position", zap.String("label", label), zap.Error(err))
		http.Error(w, "Failed to find position", http.StatusBadGateway)
		return
	}
	if pos == nil {
		http.Error(w, "No open position", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	orders, err := s.tradeRepo.ListOrders(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.Error(err))
		http.Error(w, "Failed to list orders", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handlePositionHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	history, err := s.tradeRepo.ListPositionHistory(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list position history", zap.Error(err))
		http.Error(w, "Failed to list position history", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}
