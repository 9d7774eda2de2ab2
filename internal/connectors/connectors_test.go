package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// fakeConn отвечает заранее заданной структурой и запоминает запрос.
type fakeConn struct {
	method string
	req    map[string]any
	resp   map[string]any
	err    error
}

func (f *fakeConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.method = method
	f.req = args.(*structpb.Struct).AsMap()
	if f.err != nil {
		return f.err
	}
	s, err := structpb.NewStruct(f.resp)
	if err != nil {
		return err
	}
	proto.Merge(reply.(proto.Message), s)
	return nil
}

func (f *fakeConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streams are not supported")
}

func testTask() *domain.Task {
	return &domain.Task{ID: "t-1", Type: "report.build", Complexity: domain.ComplexityLow}
}

func TestGRPCWorkerInvoke(t *testing.T) {
	conn := &fakeConn{resp: map[string]any{"status_code": 0, "result": map[string]any{"rows": 3}}}
	w := NewGRPCWorker(conn, time.Second)

	out, err := w.Invoke(context.Background(), testTask(), "exec-a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":3}`, string(out))
	assert.Equal(t, WorkerInvokeMethod, conn.method)
	assert.Equal(t, "exec-a", conn.req["executor_ref"])
	assert.Equal(t, "t-1", conn.req["task"].(map[string]any)["id"])
}

func TestGRPCWorkerErrors(t *testing.T) {
	tests := []struct {
		name     string
		conn     *fakeConn
		throttle bool
		deadline bool
	}{
		{name: "remote status code", conn: &fakeConn{resp: map[string]any{"status_code": 500, "error_message": "boom"}}},
		{name: "retry after in body", conn: &fakeConn{resp: map[string]any{"retry_after_ms": 250}}, throttle: true},
		{name: "resource exhausted", conn: &fakeConn{err: status.Error(codes.ResourceExhausted, "busy")}, throttle: true},
		{name: "deadline", conn: &fakeConn{err: status.Error(codes.DeadlineExceeded, "slow")}, deadline: true},
		{name: "internal", conn: &fakeConn{err: status.Error(codes.Internal, "oops")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGRPCWorker(tt.conn, time.Second).Invoke(context.Background(), testTask(), "exec-a")
			require.Error(t, err)
			_, throttled := RetryAfter(err)
			assert.Equal(t, tt.throttle, throttled)
			assert.Equal(t, tt.deadline, errors.Is(err, context.DeadlineExceeded))
		})
	}
}

func TestGRPCWorkerRetryAfterFromBody(t *testing.T) {
	conn := &fakeConn{resp: map[string]any{"retry_after_ms": 250}}
	_, err := NewGRPCWorker(conn, time.Second).Invoke(context.Background(), testTask(), "exec-a")
	d, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, d)
}

func TestGRPCValidator(t *testing.T) {
	conn := &fakeConn{resp: map[string]any{"passed": false, "score": 0.4, "issues": []any{"missing totals"}}}
	v := NewGRPCValidator(conn, time.Second)
	s := &domain.Situation{ID: "s-1", Task: testTask()}

	report, err := v.Validate(context.Background(), json.RawMessage(`{"rows":3}`), s)
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.InDelta(t, 0.4, report.Score, 1e-9)
	assert.Equal(t, []string{"missing totals"}, report.Issues)
	assert.Equal(t, ValidatorValidateMethod, conn.method)
	assert.Equal(t, "s-1", conn.req["situation_id"])
}

func TestMockWorker(t *testing.T) {
	w := &MockWorker{Latency: func() time.Duration { return 0 }}
	v := MockValidator{}
	ctx := context.Background()

	out, err := w.Invoke(ctx, testTask(), "exec-a")
	require.NoError(t, err)
	report, err := v.Validate(ctx, out, nil)
	require.NoError(t, err)
	assert.True(t, report.Passed)

	task := testTask()
	task.Context = map[string]any{SimulateKey: "invalid"}
	out, err = w.Invoke(ctx, task, "exec-a")
	require.NoError(t, err)
	report, err = v.Validate(ctx, out, nil)
	require.NoError(t, err)
	assert.False(t, report.Passed)

	task.Context[SimulateKey] = "throttle"
	_, err = w.Invoke(ctx, task, "exec-a")
	_, ok := RetryAfter(err)
	assert.True(t, ok)

	task.Context[SimulateKey] = "fail"
	_, err = w.Invoke(ctx, task, "exec-a")
	var remote *RemoteError
	assert.ErrorAs(t, err, &remote)
}

func TestMockWorkerHonoursContext(t *testing.T) {
	w := &MockWorker{Latency: func() time.Duration { return time.Minute }}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := w.Invoke(ctx, testTask(), "exec-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
