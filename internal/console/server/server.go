package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/spaceai-autonomy/internal/console/handler"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Интерфейс для проверки токенов (RS256), токены выпускает внешний IdP
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	escalationHandler *handler.EscalationHandler // /v1/escalations (HITL)
	executorHandler   *handler.ExecutorHandler   // /v1/executors (Kill-Switch)
	decisionHandler   *handler.DecisionHandler   // /v1/decisions (журнал и статистика)
	rulesHandler      *handler.RulesHandler      // /v1/rules
}

// NewConsoleServer инициализирует сервер консоли оператора со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	escalationH *handler.EscalationHandler,
	executorH *handler.ExecutorHandler,
	decisionH *handler.DecisionHandler,
	rulesH *handler.RulesHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("console-api"),
		authValidator:     validator,
		escalationHandler: escalationH,
		executorHandler:   executorH,
		decisionHandler:   decisionH,
		rulesHandler:      rulesH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Human-in-the-loop (Escalations)
		r.Route("/v1/escalations", func(r chi.Router) {
			r.With(auth.RequireScope(domain.ScopeEscalationsRead)).Get("/", s.escalationHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.With(auth.RequireScope(domain.ScopeEscalationsRead)).Get("/", s.escalationHandler.GetDetails)
				// Approve/Reject + Redis Publish
				r.With(auth.RequireScope(domain.ScopeEscalationsDecide)).Post("/decide", s.escalationHandler.Decide)
			})
		})

		// Управление исполнителями (Kill-Switch)
		r.Route("/v1/executors", func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeExecutorsManage))
			r.Get("/", s.executorHandler.List)
			r.Post("/{ref}/block", s.executorHandler.Block)
			r.Post("/{ref}/unblock", s.executorHandler.Unblock)
		})

		// Журнал решений и дашборд
		r.Route("/v1/decisions", func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeDecisionsRead))
			r.Get("/", s.decisionHandler.List)
			r.Get("/stats", s.decisionHandler.GetStats)
		})

		r.With(auth.RequireScope(domain.ScopeRulesManage)).Post("/v1/rules/reload", s.rulesHandler.Reload)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
