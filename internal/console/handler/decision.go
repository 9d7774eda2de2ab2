package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

type DecisionService interface {
	ListDecisions(ctx context.Context, f domain.DecisionFilter) ([]domain.DecisionLogEntry, error)
	GetStats(ctx context.Context, window time.Duration) (*domain.DecisionStats, error)
}

type DecisionHandler struct {
	service DecisionService
}

func NewDecisionHandler(s DecisionService) *DecisionHandler {
	return &DecisionHandler{service: s}
}

// List возвращает журнал решений с фильтрацией
// GET /v1/decisions?situation_id=...&task_type=...&action=...&limit=...
func (h *DecisionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.DecisionFilter{
		SituationID: q.Get("situation_id"),
		TaskType:    q.Get("task_type"),
		Action:      domain.Action(q.Get("action")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	list, err := h.service.ListDecisions(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetStats: сводка для дашборда. GET /v1/decisions/stats?window=1h
func (h *DecisionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			http.Error(w, "window must be a duration like 1h", http.StatusBadRequest)
			return
		}
		window = d
	}

	stats, err := h.service.GetStats(r.Context(), window)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
