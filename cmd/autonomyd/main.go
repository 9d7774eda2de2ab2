package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/spaceai-autonomy/internal/analysis"
	"github.com/xela07ax/spaceai-autonomy/internal/audit"
	"github.com/xela07ax/spaceai-autonomy/internal/confidence"
	"github.com/xela07ax/spaceai-autonomy/internal/connectors"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/engine"
	"github.com/xela07ax/spaceai-autonomy/internal/escalation"
	"github.com/xela07ax/spaceai-autonomy/internal/history"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"github.com/xela07ax/spaceai-autonomy/internal/infra/auth"
	"github.com/xela07ax/spaceai-autonomy/internal/ingress"
	"github.com/xela07ax/spaceai-autonomy/internal/learning"
	"github.com/xela07ax/spaceai-autonomy/internal/orchestrator"
	"github.com/xela07ax/spaceai-autonomy/internal/policy"
	"github.com/xela07ax/spaceai-autonomy/internal/repository/postgres"
	"github.com/xela07ax/spaceai-autonomy/internal/risk"
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

	// Контекст для управления жизненным циклом фоновых горутин.
	// SIGTERM отменяет его и останавливает слушателей
	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Инфраструктура и ресурсы
	pool, err := postgres.NewPool(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer func() { _ = rdb.Close() }()

	decisionRepo := postgres.NewDecisionRepo(pool)
	escalationRepo := postgres.NewEscalationRepo(pool)
	executorRepo := postgres.NewExecutorRepo(pool)

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Журнал решений: асинхронная запись пачками + индекс похожих в RAM
	agentFS := audit.NewAgentFS(decisionRepo, audit.Options{
		BufferSize:    cfg.Engine.AuditBufferSize,
		BatchSize:     cfg.Engine.AuditBatchSize,
		FlushInterval: cfg.Engine.AuditFlushInterval,
		BufferFill:    metrics.AuditBufferFill,
		Overflows:     metrics.AuditOverflows,
		FlushFails:    metrics.AuditFlushFailures,
	}, logger)
	agentFS.Start()

	historyStore := history.NewStore(cfg.Autonomy.HistoryLimit, agentFS, logger)
	if err := historyStore.Warmup(appCtx, decisionRepo, 10*cfg.Autonomy.HistoryLimit); err != nil {
		// Без прогрева работаем с нейтральной историей
		logger.Warn("history warmup failed", zap.Error(err))
	}

	// 3. Control Plane: правила и реестр исполнителей (kill-switch)
	rules := policy.NewRuleEngine(policy.FileSource{Path: cfg.Autonomy.RulesFile}, rdb, logger)
	if err := rules.Refresh(appCtx); err != nil {
		logger.Fatal("failed to load rules", zap.String("path", cfg.Autonomy.RulesFile), zap.Error(err))
	}
	go rules.StartListener(appCtx)

	registry := engine.NewRegistry(executorRepo, rdb, cfg.Engine.ReliabilityWindow, logger)
	if err := registry.Init(appCtx); err != nil {
		logger.Fatal("failed to init executor registry", zap.Error(err))
	}
	go registry.StartListener(appCtx)

	// 4. Адаптивные пороги
	thresholds := learning.NewThresholdStore(cfg.Autonomy.Thresholds)
	learner := learning.NewLearner(thresholds, cfg.Autonomy.Learning, learning.NewRedisSnapshotStore(rdb, logger), logger)
	if err := learner.Warmup(appCtx); err != nil {
		logger.Warn("thresholds warmup failed, starting from config", zap.Error(err))
	}
	learnerDone := make(chan struct{})
	go func() {
		defer close(learnerDone)
		learner.Run(appCtx)
	}()
	metrics.AutonomousThreshold.Set(thresholds.Snapshot().Autonomous)

	// 5. Execution Layer (Исполнение + Надежность)
	worker, validator, closeConns := dialCollaborators(cfg.Engine, logger)
	defer closeConns()
	safeWorker := engine.NewReliabilityWrapper(worker, cfg.Engine, metrics, logger)
	executor := engine.NewExecutor(safeWorker, validator, historyStore, metrics, logger)

	riskCfg := risk.DefaultConfig()
	riskCfg.Critical = cfg.Autonomy.RiskCritical
	riskCfg.FinancialCeiling = cfg.Autonomy.FinancialCeiling
	riskCfg.AmountKey = cfg.Autonomy.AmountKey

	// 6. Core
	core := engine.New(engine.Deps{
		Analyzer: analysis.NewAnalyzer(registry, analysis.Config{
			RequiredContext:   cfg.Autonomy.RequiredContext,
			ResourceEstimates: cfg.Autonomy.ResourceEstimates,
			ResourceCapacity:  cfg.Autonomy.ResourceCapacity,
		}),
		Estimator:  confidence.NewEstimator(confidence.Config{Weights: cfg.Autonomy.Weights, Neutral: cfg.Autonomy.NeutralConfidence}),
		Assessor:   risk.NewAssessor(riskCfg),
		Rules:      rules,
		Thresholds: thresholds,
		Learner:    learner,
		History:    historyStore,
		Executor:   executor,
		Escalator:  escalation.New(escalationRepo, rdb, cfg.Engine.EscalationTimeout, logger),
		Registry:   registry,
		Metrics:    metrics,
		Logger:     logger,
	}, engine.Config{TaskTimeout: cfg.Engine.TaskTimeout, Neutral: cfg.Autonomy.NeutralConfidence})

	orch := orchestrator.New(core, escalationRepo, rdb, cfg.Engine.MaxReassignments, logger)
	go orch.StartListener(appCtx)

	// 7. Вход ситуаций: HTTP + gRPC, токены декомпозитора (RS256)
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}
	tokenValidator := auth.NewBaseValidator(pubKey)

	httpIngress := ingress.NewHandler(orch, tokenValidator, logger)
	httpIngress.Mount("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      httpIngress,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(ingress.UnaryAuthInterceptor(tokenValidator, domain.ScopeSituationsSubmit)))
	ingress.RegisterEngineService(grpcSrv, ingress.NewGRPCServer(orch, logger))

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr())
		if err != nil {
			logger.Fatal("failed to listen gRPC", zap.Error(err))
		}
		logger.Info("engine gRPC server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("engine HTTP server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// 8. Graceful Shutdown
	<-appCtx.Done()
	logger.Info("engine stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	grpcSrv.GracefulStop()

	// Возобновления после одобрения дорабатывают, затем сбрасываем журнал и пороги
	orch.Wait()
	agentFS.Stop()
	<-learnerDone
	logger.Info("engine exited properly")
}

// dialCollaborators подключает пул исполнителей и валидатор. Пустой адрес — встроенная имитация.
func dialCollaborators(cfg infra.EngineConfig, logger *zap.Logger) (engine.Worker, engine.Validator, func()) {
	var (
		worker    engine.Worker    = &connectors.MockWorker{}
		validator engine.Validator = &connectors.MockValidator{}
		conns     []*grpc.ClientConn
	)
	dial := func(addr string) *grpc.ClientConn {
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			logger.Fatal("failed to connect collaborator", zap.String("addr", addr), zap.Error(err))
		}
		conns = append(conns, conn)
		return conn
	}

	if cfg.WorkerAddr != "" {
		worker = connectors.NewGRPCWorker(dial(cfg.WorkerAddr), cfg.TaskTimeout)
	} else {
		logger.Warn("worker_addr is empty, using simulated worker pool")
	}
	if cfg.ValidatorAddr != "" {
		validator = connectors.NewGRPCValidator(dial(cfg.ValidatorAddr), cfg.TaskTimeout)
	} else {
		logger.Warn("validator_addr is empty, using simulated validator")
	}

	return worker, validator, func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}
}
