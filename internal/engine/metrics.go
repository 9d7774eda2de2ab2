package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полный цикл decide_and_act, включая исполнение
	DecisionDuration *prometheus.HistogramVec

	// Traffic: решения по действию и сработавшему правилу
	Decisions *prometheus.CounterVec

	// Исходы исполнения: success, failed, technical_failure, timeout, validation_failed
	Executions *prometheus.CounterVec

	// Распределение уверенности и уровней риска
	Confidence prometheus.Histogram
	RiskLevels *prometheus.CounterVec

	// Текущий адаптивный порог autonomous
	AutonomousThreshold prometheus.Gauge

	// Errors: классификация деградаций (history_unavailable, escalation_failed, log_append_failed)
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило, 0.5 - пробуем)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill    prometheus.Gauge
	AuditOverflows     prometheus.Counter
	AuditFlushFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		DecisionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autonomy_decision_duration_seconds",
			Help:    "Histogram of decide-and-act latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 120},
		}, []string{"action"}),

		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "autonomy_decisions_total",
			Help: "Total number of decisions by action and matched rule.",
		}, []string{"action", "rule"}),

		Executions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "autonomy_executions_total",
			Help: "Total number of executed decisions by outcome.",
		}, []string{"outcome"}),

		Confidence: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "autonomy_confidence_score",
			Help:    "Distribution of confidence scores.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),

		RiskLevels: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "autonomy_risk_levels_total",
			Help: "Total number of risk assessments by level.",
		}, []string{"level"}),

		AutonomousThreshold: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "autonomy_threshold_autonomous",
			Help: "Current adaptive autonomous confidence threshold.",
		}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "autonomy_errors_total",
			Help: "Total number of degraded operations by type.",
		}, []string{"type"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "autonomy_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"name"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "autonomy_decision_log_buffer_utilization",
			Help: "Current number of entries in the decision log buffer.",
		}),

		AuditOverflows: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "autonomy_decision_log_overflows_total",
			Help: "Times the decision log buffer was full and the writer had to wait.",
		}),

		AuditFlushFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "autonomy_decision_log_flush_failures_total",
			Help: "Failed batch writes of the decision log.",
		}),
	}
}
