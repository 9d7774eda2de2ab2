package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

// ExecutorRepo: источник истины для kill-switch исполнителей.
type ExecutorRepo struct {
	pool *pgxpool.Pool
}

func NewExecutorRepo(pool *pgxpool.Pool) *ExecutorRepo {
	return &ExecutorRepo{pool: pool}
}

// UpdateExecutorStatus меняет статус (upsert: исполнитель может быть еще не известен базе).
func (r *ExecutorRepo) UpdateExecutorStatus(ctx context.Context, ref string, status domain.ExecutorStatus) error {
	query := `
		INSERT INTO executors (ref, status, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (ref) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()`
	if _, err := r.pool.Exec(ctx, query, ref, string(status)); err != nil {
		return fmt.Errorf("postgres: failed to update executor status: %w", err)
	}
	return nil
}

// GetBlockedExecutors: ID заблокированных исполнителей.
// Используется для прогрева L1 (RAM) кэша реестра при старте.
func (r *ExecutorRepo) GetBlockedExecutors(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT ref FROM executors WHERE status = 'blocked'`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch blocked executors: %w", err)
	}
	defer rows.Close()

	refs := make([]string, 0)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("postgres: scan executor ref error: %w", err)
		}
		refs = append(refs, ref)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return refs, nil
}

// ListExecutors: все известные исполнители.
func (r *ExecutorRepo) ListExecutors(ctx context.Context) ([]domain.ExecutorRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT ref, status, updated_at FROM executors ORDER BY ref`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list executors: %w", err)
	}
	defer rows.Close()

	list := make([]domain.ExecutorRecord, 0)
	for rows.Next() {
		var rec domain.ExecutorRecord
		var status string
		if err := rows.Scan(&rec.Ref, &status, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan executor error: %w", err)
		}
		rec.Status = domain.ExecutorStatus(status)
		list = append(list, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return list, nil
}
