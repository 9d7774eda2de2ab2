package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

// SimulateKey: ключ контекста задачи, которым локальные прогоны управляют поведением мока:
// fail, throttle, invalid.
const SimulateKey = "simulate"

// MockWorker: исполнитель для локального запуска без пула.
type MockWorker struct {
	// Latency возвращает задержку вызова. nil — случайная 50-300мс.
	Latency func() time.Duration
}

func (c *MockWorker) Invoke(ctx context.Context, task *domain.Task, executorRef string) (json.RawMessage, error) {
	latency := time.Duration(50+rand.Intn(250)) * time.Millisecond
	if c.Latency != nil {
		latency = c.Latency()
	}

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mode, _ := task.Context[SimulateKey].(string)
	switch mode {
	case "fail":
		return nil, &RemoteError{Code: 500, Message: "executor internal error"}
	case "throttle":
		return nil, &ThrottleError{RetryAfter: 200 * time.Millisecond, Cause: fmt.Errorf("executor %s is saturated", executorRef)}
	case "invalid":
		return json.Marshal(map[string]any{"status": "incomplete", "task_id": task.ID, "executor": executorRef})
	}

	return json.Marshal(map[string]any{"status": "ok", "task_id": task.ID, "executor": executorRef})
}

// MockValidator принимает результат со status=ok.
type MockValidator struct{}

func (MockValidator) Validate(_ context.Context, result json.RawMessage, _ *domain.Situation) (domain.ValidationReport, error) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return domain.ValidationReport{Passed: false, Score: 0, Issues: []string{"result is not a JSON object"}}, nil
	}
	if body.Status != "ok" {
		return domain.ValidationReport{Passed: false, Score: 0.3, Issues: []string{"status is " + body.Status}}, nil
	}
	return domain.ValidationReport{Passed: true, Score: 1}, nil
}
