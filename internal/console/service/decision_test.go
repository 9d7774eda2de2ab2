package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"go.uber.org/zap"
)

type countingRepo struct {
	calls int
	since []time.Time
	err   error
}

func (r *countingRepo) ListDecisions(context.Context, domain.DecisionFilter) ([]domain.DecisionLogEntry, error) {
	return nil, nil
}

func (r *countingRepo) DecisionStats(_ context.Context, since time.Time) (*domain.DecisionStats, error) {
	r.calls++
	r.since = append(r.since, since)
	if r.err != nil {
		return nil, r.err
	}
	return &domain.DecisionStats{Total: int64(r.calls)}, nil
}

type memStatsCache struct {
	byWindow map[time.Duration]*domain.DecisionStats
	getErr   error
}

func (c *memStatsCache) Get(_ context.Context, w time.Duration) (*domain.DecisionStats, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.byWindow[w], nil
}

func (c *memStatsCache) Set(_ context.Context, w time.Duration, s *domain.DecisionStats) error {
	c.byWindow[w] = s
	return nil
}

func TestGetStatsServesFromCache(t *testing.T) {
	repo := &countingRepo{}
	cache := &memStatsCache{byWindow: map[time.Duration]*domain.DecisionStats{}}
	svc := NewDecisionService(repo, cache, zap.NewNop())
	ctx := context.Background()

	first, err := svc.GetStats(ctx, time.Hour)
	require.NoError(t, err)
	second, err := svc.GetStats(ctx, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, first, second)

	// Другое окно считается отдельно
	_, err = svc.GetStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
	assert.Contains(t, cache.byWindow, 24*time.Hour, "zero window means one day")
}

func TestGetStatsFallsThroughBrokenCache(t *testing.T) {
	repo := &countingRepo{}
	svc := NewDecisionService(repo, &memStatsCache{getErr: errors.New("redis down"), byWindow: map[time.Duration]*domain.DecisionStats{}}, zap.NewNop())

	got, err := svc.GetStats(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Total)
}

func TestGetStatsWithUnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := &countingRepo{}
	svc := NewDecisionService(repo, NewRedisStatsCache(rdb), zap.NewNop())

	got, err := svc.GetStats(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Total)
}

func TestGetStatsRepoErrorIsNotCached(t *testing.T) {
	repo := &countingRepo{err: errors.New("pool closed")}
	cache := &memStatsCache{byWindow: map[time.Duration]*domain.DecisionStats{}}
	svc := NewDecisionService(repo, cache, zap.NewNop())

	_, err := svc.GetStats(context.Background(), time.Hour)
	assert.ErrorIs(t, err, repo.err)
	assert.Empty(t, cache.byWindow)
}

func TestGetStatsWithoutCache(t *testing.T) {
	repo := &countingRepo{}
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	svc := NewDecisionService(repo, nil, zap.NewNop())
	svc.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := svc.GetStats(context.Background(), time.Hour)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, repo.calls)
	assert.Equal(t, now.Add(-time.Hour), repo.since[0])
}
