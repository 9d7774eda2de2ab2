package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/engine"
	"github.com/xela07ax/spaceai-autonomy/internal/infra/auth"
	"go.uber.org/zap"
)

// Submitter: точка входа ядра (оркестратор с переназначениями).
type Submitter interface {
	Submit(ctx context.Context, s *domain.Situation) (engine.Outcome, error)
}

type Handler struct {
	router    *chi.Mux
	submitter Submitter
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler собирает HTTP-вход для ситуаций. Токен RS256 со scope situations.submit.
// Дополнительные роуты (например /metrics) монтируются через Mount.
func NewHandler(sub Submitter, validator auth.TokenValidator, logger *zap.Logger) *Handler {
	h := &Handler{
		router:    chi.NewRouter(),
		submitter: sub,
		logger:    logger.Named("ingress"),
		now:       time.Now,
	}

	r := h.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(validator, h.logger))
		r.Use(auth.RequireScope(domain.ScopeSituationsSubmit))
		r.Post("/v1/situations", h.submit)
	})
	return h
}

// Mount подключает служебный обработчик без авторизации.
func (h *Handler) Mount(pattern string, handler http.Handler) {
	h.router.Handle(pattern, handler)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// submit: POST /v1/situations. Отвечает итогом цикла (решение, результат или id эскалации).
func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var s domain.Situation
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	prepare(&s, h.now())

	log := h.logger.With(zap.String("trace_id", TraceID(r.Context())), zap.String("situation_id", s.ID))

	out, err := h.submitter.Submit(r.Context(), &s)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSituation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error("submit failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.Info("situation processed",
		zap.String("action", string(out.Decision.Action)),
		zap.Bool("escalated", out.Escalated()),
	)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// prepare: id и время создания присваивает вход, если клиент их не прислал.
func prepare(s *domain.Situation, now time.Time) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
}
