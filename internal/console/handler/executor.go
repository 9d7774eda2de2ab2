package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

type ExecutorService interface {
	BlockExecutor(ctx context.Context, ref string) error
	UnblockExecutor(ctx context.Context, ref string) error
	ListExecutors(ctx context.Context) ([]domain.ExecutorRecord, error)
}

type ExecutorHandler struct {
	service ExecutorService
}

func NewExecutorHandler(s ExecutorService) *ExecutorHandler {
	return &ExecutorHandler{service: s}
}

func (h *ExecutorHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListExecutors(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Block: мгновенная блокировка (kill-switch). Ждем и БД, и Redis.
func (h *ExecutorHandler) Block(w http.ResponseWriter, r *http.Request) {
	if err := h.service.BlockExecutor(r.Context(), chi.URLParam(r, "ref")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ExecutorHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	if err := h.service.UnblockExecutor(r.Context(), chi.URLParam(r, "ref")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
