package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/engine"
	"go.uber.org/zap"
)

// scriptedEngine отдает исходы по очереди и запоминает ситуации.
type scriptedEngine struct {
	mu       sync.Mutex
	outcomes []func(s *domain.Situation) engine.Outcome
	seen     []*domain.Situation
}

func (e *scriptedEngine) DecideAndAct(_ context.Context, s *domain.Situation) (engine.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.Validate(); err != nil {
		return engine.Outcome{}, err
	}
	e.seen = append(e.seen, s)
	i := min(len(e.seen)-1, len(e.outcomes)-1)
	return e.outcomes[i](s), nil
}

func acted(success bool, ref string, retryAfterMs int64) func(s *domain.Situation) engine.Outcome {
	return func(s *domain.Situation) engine.Outcome {
		return engine.Outcome{
			SituationID: s.ID,
			Decision:    domain.Decision{Action: domain.ActionExecuteAutonomously},
			Result:      &domain.ActionResult{Success: success, ExecutorRef: ref, RetryAfterMs: retryAfterMs, Error: "boom"},
		}
	}
}

func escalated(s *domain.Situation) engine.Outcome {
	return engine.Outcome{SituationID: s.ID, Decision: domain.Decision{Action: domain.ActionEscalateToHuman}, EscalationID: "esc-1"}
}

type memEscalations struct {
	byID map[string]*domain.EscalationRequest
}

func (m *memEscalations) GetEscalation(_ context.Context, id string) (*domain.EscalationRequest, error) {
	if e, ok := m.byID[id]; ok {
		return e, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memEscalations) FindEscalations(_ context.Context, status domain.EscalationStatus) ([]*domain.EscalationRequest, error) {
	var res []*domain.EscalationRequest
	for _, e := range m.byID {
		if e.Status == status {
			res = append(res, e)
		}
	}
	return res, nil
}

func newSituation() *domain.Situation {
	return &domain.Situation{
		ID:        "s-1",
		Task:      &domain.Task{ID: "t-1", Type: "research"},
		Executors: []string{"exec-a", "exec-b"},
		Context:   map[string]any{"region": "eu"},
	}
}

func newOrchestrator(eng DecisionEngine, esc EscalationReader) *Orchestrator {
	return New(eng, esc, nil, 2, zap.NewNop(), WithDelay(time.Millisecond))
}

func TestSubmitSuccessNoReassignment(t *testing.T) {
	eng := &scriptedEngine{outcomes: []func(*domain.Situation) engine.Outcome{acted(true, "exec-a", 0)}}
	out, err := newOrchestrator(eng, nil).Submit(context.Background(), newSituation())
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	assert.Len(t, eng.seen, 1)
}

func TestSubmitReassignsAtMostTwice(t *testing.T) {
	eng := &scriptedEngine{outcomes: []func(*domain.Situation) engine.Outcome{acted(false, "exec-a", 0)}}
	out, err := newOrchestrator(eng, nil).Submit(context.Background(), newSituation())
	require.NoError(t, err)

	require.Len(t, eng.seen, 3)
	assert.False(t, out.Result.Success)
	assert.Equal(t, eng.seen[2].ID, out.SituationID)

	// Каждая попытка — новая ситуация со ссылкой на предыдущую
	assert.Equal(t, "s-1", eng.seen[1].ParentID)
	assert.Equal(t, eng.seen[1].ID, eng.seen[2].ParentID)
	assert.NotEqual(t, eng.seen[0].ID, eng.seen[1].ID)
	assert.Same(t, eng.seen[0].Task, eng.seen[1].Task)

	// Упавший исполнитель исключен, пока есть альтернатива
	assert.Equal(t, []string{"exec-b"}, eng.seen[1].Executors)
	assert.Equal(t, []string{"exec-a", "exec-b"}, eng.seen[0].Executors, "original situation is not mutated")
}

func TestSubmitStopsOnSuccessAfterFailure(t *testing.T) {
	eng := &scriptedEngine{outcomes: []func(*domain.Situation) engine.Outcome{acted(false, "exec-a", 0), acted(true, "exec-b", 0)}}
	out, err := newOrchestrator(eng, nil).Submit(context.Background(), newSituation())
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	assert.Len(t, eng.seen, 2)
}

func TestSubmitEscalationIsTerminal(t *testing.T) {
	eng := &scriptedEngine{outcomes: []func(*domain.Situation) engine.Outcome{escalated}}
	out, err := newOrchestrator(eng, nil).Submit(context.Background(), newSituation())
	require.NoError(t, err)
	assert.True(t, out.Escalated())
	assert.Len(t, eng.seen, 1)
}

func TestSubmitHonoursRetryAfter(t *testing.T) {
	eng := &scriptedEngine{outcomes: []func(*domain.Situation) engine.Outcome{acted(false, "exec-a", 60), acted(true, "exec-b", 0)}}

	start := time.Now()
	out, err := newOrchestrator(eng, nil).Submit(context.Background(), newSituation())
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestSubmitRejectsInvalidSituation(t *testing.T) {
	eng := &scriptedEngine{outcomes: []func(*domain.Situation) engine.Outcome{escalated}}
	_, err := newOrchestrator(eng, nil).Submit(context.Background(), &domain.Situation{ID: "s-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidSituation)
	assert.Empty(t, eng.seen)
}

func snapshot(t *testing.T, s *domain.Situation) []byte {
	t.Helper()
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	return raw
}

func TestResumeApprovedEscalation(t *testing.T) {
	esc := &memEscalations{byID: map[string]*domain.EscalationRequest{
		"esc-1": {ID: "esc-1", SituationID: "s-1", Status: domain.StatusApproved, Situation: snapshot(t, newSituation())},
	}}
	eng := &scriptedEngine{outcomes: []func(*domain.Situation) engine.Outcome{acted(true, "exec-a", 0)}}

	out, err := newOrchestrator(eng, esc).Resume(context.Background(), "esc-1")
	require.NoError(t, err)
	require.NotNil(t, out)

	require.Len(t, eng.seen, 1)
	resumed := eng.seen[0]
	assert.Equal(t, "s-1", resumed.ParentID)
	assert.NotEqual(t, "s-1", resumed.ID)
	id, ok := resumed.HumanApproval()
	assert.True(t, ok)
	assert.Equal(t, "esc-1", id)
	assert.Equal(t, "eu", resumed.Context["region"])
}

func TestResumedApprovalSurvivesReassignment(t *testing.T) {
	esc := &memEscalations{byID: map[string]*domain.EscalationRequest{
		"esc-1": {ID: "esc-1", SituationID: "s-1", Status: domain.StatusApproved, Situation: snapshot(t, newSituation())},
	}}
	eng := &scriptedEngine{outcomes: []func(*domain.Situation) engine.Outcome{
		acted(false, "exec-a", 0), acted(true, "exec-b", 0),
	}}

	_, err := newOrchestrator(eng, esc).Resume(context.Background(), "esc-1")
	require.NoError(t, err)

	require.Len(t, eng.seen, 2)
	id, ok := eng.seen[1].HumanApproval()
	assert.True(t, ok)
	assert.Equal(t, "esc-1", id)
}

func TestApprovalIsNotReadFromSnapshot(t *testing.T) {
	s := newSituation()
	s.MarkApproved("esc-old")
	raw := snapshot(t, s)
	assert.NotContains(t, string(raw), "esc-old")

	var restored domain.Situation
	require.NoError(t, json.Unmarshal(raw, &restored))
	_, ok := restored.HumanApproval()
	assert.False(t, ok)
}

func TestResumeIgnoresRejectedAndPending(t *testing.T) {
	esc := &memEscalations{byID: map[string]*domain.EscalationRequest{
		"esc-r": {ID: "esc-r", Status: domain.StatusRejected, Situation: snapshot(t, newSituation())},
		"esc-p": {ID: "esc-p", Status: domain.StatusPending, Situation: snapshot(t, newSituation())},
	}}
	eng := &scriptedEngine{outcomes: []func(*domain.Situation) engine.Outcome{escalated}}
	o := newOrchestrator(eng, esc)

	for _, id := range []string{"esc-r", "esc-p"} {
		out, err := o.Resume(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, out)
	}
	assert.Empty(t, eng.seen)

	_, err := o.Resume(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatchUpResumesRecentApprovals(t *testing.T) {
	now := time.Now()
	esc := &memEscalations{byID: map[string]*domain.EscalationRequest{
		"fresh": {ID: "fresh", Status: domain.StatusApproved, UpdatedAt: now, Situation: snapshot(t, newSituation())},
		"stale": {ID: "stale", Status: domain.StatusApproved, UpdatedAt: now.Add(-48 * time.Hour), Situation: snapshot(t, newSituation())},
	}}
	eng := &scriptedEngine{outcomes: []func(*domain.Situation) engine.Outcome{acted(true, "exec-a", 0)}}
	o := newOrchestrator(eng, esc)

	require.NoError(t, o.catchUp(context.Background()))
	o.Wait()

	require.Len(t, eng.seen, 1)
	id, _ := eng.seen[0].HumanApproval()
	assert.Equal(t, "fresh", id)
}
