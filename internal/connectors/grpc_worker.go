package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Методы сервисов. Сообщения — google.protobuf.Struct, поэтому сгенерированный клиент не нужен.
const (
	WorkerInvokeMethod      = "/autonomy.worker.v1.WorkerService/Invoke"
	ValidatorValidateMethod = "/autonomy.validator.v1.ValidatorService/Validate"
)

const (
	defaultCallTimeout = 15 * time.Second
	defaultThrottle    = time.Second
)

// GRPCWorker: пул исполнителей за gRPC.
type GRPCWorker struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewGRPCWorker(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCWorker {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &GRPCWorker{conn: conn, timeout: timeout}
}

// Invoke отправляет задачу исполнителю executorRef и возвращает результат как JSON.
func (w *GRPCWorker) Invoke(ctx context.Context, task *domain.Task, executorRef string) (json.RawMessage, error) {
	taskMap, err := toMap(task)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{
		"executor_ref": executorRef,
		"task":         taskMap,
		"metadata":     map[string]any{"source": "autonomy-engine"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create proto struct: %w", err)
	}

	// Даже если выше стоит таймаут ситуации, у адаптера свой предел
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := w.conn.Invoke(ctx, WorkerInvokeMethod, req, resp); err != nil {
		return nil, classify(err)
	}

	fields := resp.AsMap()
	if ms, ok := fields["retry_after_ms"].(float64); ok && ms > 0 {
		return nil, &ThrottleError{
			RetryAfter: time.Duration(ms) * time.Millisecond,
			Cause:      fmt.Errorf("executor %s is saturated", executorRef),
		}
	}
	if code, ok := fields["status_code"].(float64); ok && code != 0 {
		msg, _ := fields["error_message"].(string)
		return nil, &RemoteError{Code: int(code), Message: msg}
	}

	result, err := json.Marshal(fields["result"])
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return result, nil
}

// GRPCValidator: внешний валидатор результата.
type GRPCValidator struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewGRPCValidator(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCValidator {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &GRPCValidator{conn: conn, timeout: timeout}
}

func (v *GRPCValidator) Validate(ctx context.Context, result json.RawMessage, s *domain.Situation) (domain.ValidationReport, error) {
	var payload any
	if len(result) > 0 {
		if err := json.Unmarshal(result, &payload); err != nil {
			return domain.ValidationReport{}, fmt.Errorf("failed to decode result: %w", err)
		}
	}
	taskMap, err := toMap(s.Task)
	if err != nil {
		return domain.ValidationReport{}, fmt.Errorf("failed to encode task: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{
		"situation_id": s.ID,
		"task":         taskMap,
		"result":       payload,
	})
	if err != nil {
		return domain.ValidationReport{}, fmt.Errorf("failed to create proto struct: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := v.conn.Invoke(ctx, ValidatorValidateMethod, req, resp); err != nil {
		return domain.ValidationReport{}, classify(err)
	}

	fields := resp.AsMap()
	report := domain.ValidationReport{}
	report.Passed, _ = fields["passed"].(bool)
	report.Score, _ = fields["score"].(float64)
	if issues, ok := fields["issues"].([]any); ok {
		for _, i := range issues {
			if str, ok := i.(string); ok {
				report.Issues = append(report.Issues, str)
			}
		}
	}
	return report, nil
}

// classify переводит gRPC статус в ошибки пакета. Дедлайн и отмена отдаются как есть.
func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("executor call failed: %w", err)
	}
	switch st.Code() {
	case codes.ResourceExhausted, codes.Unavailable:
		return &ThrottleError{RetryAfter: defaultThrottle, Cause: err}
	case codes.DeadlineExceeded:
		return fmt.Errorf("executor call failed: %w", context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("executor call failed: %w", context.Canceled)
	default:
		return fmt.Errorf("executor call failed: %w", err)
	}
}

// toMap: JSON круговорот: structpb понимает только базовые типы.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
