package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-autonomy/internal/connectors"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Worker: пул исполнителей.
type Worker interface {
	Invoke(ctx context.Context, task *domain.Task, executorRef string) (json.RawMessage, error)
}

// Validator: внешняя проверка результата.
type Validator interface {
	Validate(ctx context.Context, result json.RawMessage, s *domain.Situation) (domain.ValidationReport, error)
}

const breakerName = "worker-pool"

// ReliabilityWrapper защищает пул исполнителей лимитером и предохранителем.
// Повторов здесь нет: неудача — это исход, его учитывает обучение, а переназначение делает оркестратор.
type ReliabilityWrapper struct {
	next    Worker
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliabilityWrapper(next Worker, cfg infra.EngineConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	threshold := cfg.CBFailureThreshold
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > threshold
		},
		// Троттлинг — не поломка исполнителя
		IsSuccessful: func(err error) bool {
			_, throttled := connectors.RetryAfter(err)
			return err == nil || throttled
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
			}
		},
	})

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(limit, max(cfg.RateBurst, 1)),
	}
}

func (w *ReliabilityWrapper) Invoke(ctx context.Context, task *domain.Task, executorRef string) (json.RawMessage, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait aborted: %w", err)
	}

	// 2. Circuit Breaker
	res, err := w.cb.Execute(func() (interface{}, error) {
		return w.next.Invoke(ctx, task, executorRef)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("worker pool unavailable: %w", err)
		}
		return nil, err
	}
	return res.(json.RawMessage), nil
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
