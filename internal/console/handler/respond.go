package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/spaceai-autonomy/internal/console/service"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError разделяет типы ошибок (404, 409, 400, 500). Детали внутренних ошибок наружу не отдаем.
func writeError(w http.ResponseWriter, err error) {
	var cfgErr *infra.ConfigError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrAlreadyProcessed), errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrUnknownStatus), errors.As(err, &cfgErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
