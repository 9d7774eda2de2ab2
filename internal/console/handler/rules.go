package handler

import (
	"context"
	"net/http"

	"github.com/xela07ax/spaceai-autonomy/internal/policy"
)

type RulesService interface {
	Reload(ctx context.Context) (*policy.RuleSet, error)
}

type RulesHandler struct {
	service RulesService
}

func NewRulesHandler(s RulesService) *RulesHandler {
	return &RulesHandler{service: s}
}

// Reload: POST /v1/rules/reload. Отдает набор, который получат движки.
func (h *RulesHandler) Reload(w http.ResponseWriter, r *http.Request) {
	rs, err := h.service.Reload(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}
