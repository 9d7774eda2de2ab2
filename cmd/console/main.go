package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-autonomy/internal/console/handler"
	"github.com/xela07ax/spaceai-autonomy/internal/console/server"
	"github.com/xela07ax/spaceai-autonomy/internal/console/service"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"github.com/xela07ax/spaceai-autonomy/internal/infra/auth"
	"github.com/xela07ax/spaceai-autonomy/internal/policy"
	"github.com/xela07ax/spaceai-autonomy/internal/repository/postgres"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Инициализация ресурсов
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer func() { _ = rdb.Close() }()

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}

	// 2. Инициализация слоев (Dependency Injection)
	escalationSvc := service.NewEscalationService(postgres.NewEscalationRepo(pool), rdb, logger)
	executorSvc := service.NewExecutorService(postgres.NewExecutorRepo(pool), rdb, logger)
	decisionSvc := service.NewDecisionService(postgres.NewDecisionRepo(pool), service.NewRedisStatsCache(rdb), logger)
	rulesSvc := service.NewRulesService(policy.FileSource{Path: cfg.Autonomy.RulesFile}, rdb, logger)

	consoleSrv := server.NewConsoleServer(logger,
		auth.NewBaseValidator(pubKey),
		handler.NewEscalationHandler(escalationSvc),
		handler.NewExecutorHandler(executorSvc),
		handler.NewDecisionHandler(decisionSvc),
		handler.NewRulesHandler(rulesSvc),
	)

	// 3. Запуск сервера
	srv := &http.Server{
		Addr:         cfg.Console.Addr(),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Console.ReadTimeout,
		WriteTimeout: cfg.Console.WriteTimeout,
	}

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console shutdown failed", zap.Error(err))
	}
}
