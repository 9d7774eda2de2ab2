package postgres

/*
Файл escalation_repo.go — хранилище заявок Human-in-the-loop (HITL, «человек в контуре»).
*/

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

type EscalationRepo struct {
	pool *pgxpool.Pool
}

func NewEscalationRepo(pool *pgxpool.Pool) *EscalationRepo {
	return &EscalationRepo{pool: pool}
}

const escalationColumns = `id, situation_id, task_type, reason, confidence, risk_level, situation, status, reviewer_id, comment, created_at, updated_at`

// CreateEscalation создает заявку в статусе PENDING.
func (r *EscalationRepo) CreateEscalation(ctx context.Context, e *domain.EscalationRequest) error {
	query := `INSERT INTO escalations (id, situation_id, task_type, reason, confidence, risk_level, situation, status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query, e.ID, e.SituationID, e.TaskType, e.Reason, e.Confidence,
		string(e.RiskLevel), e.Situation, string(e.Status))
	if err != nil {
		return fmt.Errorf("postgres: failed to create escalation: %w", err)
	}
	return nil
}

// GetEscalation: детали заявки.
func (r *EscalationRepo) GetEscalation(ctx context.Context, id string) (*domain.EscalationRequest, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+escalationColumns+" FROM escalations WHERE id = $1", id)
	e, err := scanEscalation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("escalation %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: failed to get escalation: %w", err)
	}
	return e, nil
}

// FindEscalations: очередь заявок (Decision Queue), новые первыми.
func (r *EscalationRepo) FindEscalations(ctx context.Context, status domain.EscalationStatus) ([]*domain.EscalationRequest, error) {
	query := "SELECT " + escalationColumns + " FROM escalations"

	var args []any
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, strings.ToUpper(string(status)))
	}
	query += " ORDER BY created_at DESC LIMIT 100"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query escalations: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.EscalationRequest, 0)
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan escalation: %w", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// DecideEscalation атомарно переводит заявку из PENDING.
// Условие WHERE status = 'PENDING' исключает двойное решение. Возвращает обновленную заявку.
func (r *EscalationRepo) DecideEscalation(ctx context.Context, id string, status domain.EscalationStatus, reviewerID, comment string) (*domain.EscalationRequest, error) {
	query := `
		UPDATE escalations
		SET status = $1,
		    reviewer_id = $2,
		    comment = $3,
		    updated_at = NOW()
		WHERE id = $4 AND status = 'PENDING'
		RETURNING ` + escalationColumns

	e, err := scanEscalation(r.pool.QueryRow(ctx, query, string(status), reviewerID, comment, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Либо ID неверный, либо решение по заявке уже принято
			return nil, fmt.Errorf("escalation %s: %w", id, domain.ErrAlreadyProcessed)
		}
		return nil, fmt.Errorf("postgres: failed to update escalation status: %w", err)
	}
	return e, nil
}

func scanEscalation(row pgx.Row) (*domain.EscalationRequest, error) {
	var (
		e         domain.EscalationRequest
		riskLevel string
		status    string
	)
	err := row.Scan(
		&e.ID, &e.SituationID, &e.TaskType, &e.Reason, &e.Confidence, &riskLevel,
		&e.Situation, &status, &e.ReviewerID, &e.Comment, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.RiskLevel = domain.RiskLevel(riskLevel)
	e.Status = domain.EscalationStatus(status)
	return &e, nil
}
