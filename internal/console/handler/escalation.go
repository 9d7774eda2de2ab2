package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra/auth"
)

// EscalationService Описываем, что нам нужно от сервиса
type EscalationService interface {
	GetEscalation(ctx context.Context, id string) (*domain.EscalationRequest, error)
	ListEscalations(ctx context.Context, status string) ([]*domain.EscalationRequest, error)
	DecideEscalation(ctx context.Context, id string, approved bool, reviewerID, comment string) (*domain.EscalationRequest, error)
}

type EscalationHandler struct {
	service EscalationService
}

func NewEscalationHandler(s EscalationService) *EscalationHandler {
	return &EscalationHandler{service: s}
}

// GetDetails: GET /v1/escalations/{id}
func (h *EscalationHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	esc, err := h.service.GetEscalation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

// List: очередь заявок, по умолчанию PENDING.
func (h *EscalationHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(domain.StatusPending)
	}

	list, err := h.service.ListEscalations(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type DecideRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

// Decide: POST /v1/escalations/{id}/decide. Ревьюер берется из токена.
func (h *EscalationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.UserID == "" {
		http.Error(w, "reviewer identity is required", http.StatusUnauthorized)
		return
	}

	esc, err := h.service.DecideEscalation(r.Context(), chi.URLParam(r, "id"), req.Approved, claims.UserID, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}
