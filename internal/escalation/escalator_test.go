package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"go.uber.org/zap"
)

type memRepo struct {
	created []*domain.EscalationRequest
	err     error
	ctxErr  error
}

func (m *memRepo) CreateEscalation(ctx context.Context, e *domain.EscalationRequest) error {
	m.ctxErr = ctx.Err()
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, e)
	return nil
}

func decision() domain.Decision {
	return domain.Decision{
		Action:     domain.ActionEscalateToHuman,
		Level:      domain.LevelNone,
		Confidence: domain.ConfidenceScore{Score: 0.65},
		Risk:       domain.RiskAssessment{Level: domain.RiskHigh, Score: 0.7},
		Reason:     "high risk 0.70 driven by brand_risk",
	}
}

func TestEscalateCreatesPendingRequest(t *testing.T) {
	repo := &memRepo{}
	e := New(repo, nil, time.Second, zap.NewNop())
	s := &domain.Situation{ID: "s-1", Task: &domain.Task{ID: "t-1", Type: "brand_change"}}

	id, err := e.Escalate(context.Background(), s, decision())
	require.NoError(t, err)
	require.Len(t, repo.created, 1)

	req := repo.created[0]
	assert.Equal(t, id, req.ID)
	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Equal(t, "s-1", req.SituationID)
	assert.Equal(t, "brand_change", req.TaskType)
	assert.Equal(t, domain.RiskHigh, req.RiskLevel)
	assert.InDelta(t, 0.65, req.Confidence, 1e-9)

	var restored domain.Situation
	require.NoError(t, json.Unmarshal(req.Situation, &restored))
	assert.Equal(t, "t-1", restored.Task.ID)
}

func TestEscalateSurvivesCancelledContext(t *testing.T) {
	repo := &memRepo{}
	e := New(repo, nil, time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Escalate(ctx, &domain.Situation{ID: "s-1", Task: &domain.Task{ID: "t-1"}}, decision())
	require.NoError(t, err)
	assert.NoError(t, repo.ctxErr)
}

func TestEscalateRepositoryError(t *testing.T) {
	e := New(&memRepo{err: errors.New("db down")}, nil, time.Second, zap.NewNop())
	id, err := e.Escalate(context.Background(), &domain.Situation{ID: "s-1", Task: &domain.Task{ID: "t-1"}}, decision())
	assert.Error(t, err)
	assert.Empty(t, id)
}
