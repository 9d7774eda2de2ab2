package postgres

/*
Файл decision_repo.go — журнал решений (append-only).
Записи только добавляются. Каждый цикл ситуации отдельной строкой, повтор той же записи
(тот же id) игнорируется через ON CONFLICT DO NOTHING.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

type DecisionRepo struct {
	pool *pgxpool.Pool
}

func NewDecisionRepo(pool *pgxpool.Pool) *DecisionRepo {
	return &DecisionRepo{pool: pool}
}

const decisionColumns = `id, situation_id, parent_id, task_type, context_keys, action, confidence, risk_level, decision, result, success, timestamp`

// WriteBatch сохраняет пачку записей одним INSERT.
func (r *DecisionRepo) WriteBatch(ctx context.Context, entries []domain.DecisionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const numFields = 12
	var placeholders strings.Builder
	vals := make([]any, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		if i > 0 {
			placeholders.WriteString(",")
		}
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		decision, err := json.Marshal(e.Decision)
		if err != nil {
			return fmt.Errorf("postgres: encode decision %s: %w", e.SituationID, err)
		}
		var result []byte
		var success *bool
		if e.Result != nil {
			if result, err = json.Marshal(e.Result); err != nil {
				return fmt.Errorf("postgres: encode result %s: %w", e.SituationID, err)
			}
			ok := e.Result.Success
			success = &ok
		}
		keys := e.ContextKeys
		if keys == nil {
			keys = []string{}
		}

		vals = append(vals,
			e.ID, e.SituationID, nullable(e.ParentID), e.TaskType, keys,
			string(e.Decision.Action), e.Decision.Confidence.Score, string(e.Decision.Risk.Level),
			decision, result, success, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO decision_log (%s) VALUES %s ON CONFLICT (id) DO NOTHING",
		decisionColumns, placeholders.String(),
	)
	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write decision batch: %w", err)
	}
	return nil
}

// LoadRecent возвращает последние записи в хронологическом порядке (для прогрева индекса истории).
func (r *DecisionRepo) LoadRecent(ctx context.Context, limit int) ([]domain.DecisionLogEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM (
		SELECT %s FROM decision_log ORDER BY timestamp DESC LIMIT $1
	) recent ORDER BY timestamp ASC`, decisionColumns, decisionColumns)
	return r.query(ctx, query, limit)
}

// ListDecisions: выборка журнала с фильтрами для консоли (новые первыми).
func (r *DecisionRepo) ListDecisions(ctx context.Context, f domain.DecisionFilter) ([]domain.DecisionLogEntry, error) {
	query := "SELECT " + decisionColumns + " FROM decision_log"

	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.SituationID != "" {
		add("situation_id = $%d", f.SituationID)
	}
	if f.TaskType != "" {
		add("task_type = $%d", f.TaskType)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	return r.query(ctx, query, args...)
}

// DecisionStats: сводка за период. Считается в базе одним проходом.
func (r *DecisionRepo) DecisionStats(ctx context.Context, since time.Time) (*domain.DecisionStats, error) {
	var s domain.DecisionStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE action = 'execute_autonomously'),
			COUNT(*) FILTER (WHERE action = 'execute_with_validation'),
			COUNT(*) FILTER (WHERE action = 'escalate_to_human'),
			COUNT(*) FILTER (WHERE success IS TRUE),
			COUNT(*) FILTER (WHERE success IS FALSE),
			COUNT(*) FILTER (WHERE (result->>'technical_failure')::boolean IS TRUE),
			COALESCE(AVG(confidence), 0)
		FROM decision_log
		WHERE timestamp > $1`, since).Scan(
		&s.Total, &s.Autonomous, &s.Validated, &s.Escalated,
		&s.Succeeded, &s.Failed, &s.TechnicalFailures, &s.AvgConfidence,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to compute decision stats: %w", err)
	}
	if done := s.Succeeded + s.Failed; done > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(done)
	}
	return &s, nil
}

func (r *DecisionRepo) query(ctx context.Context, query string, args ...any) ([]domain.DecisionLogEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query decisions: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	entries := make([]domain.DecisionLogEntry, 0)
	for rows.Next() {
		var (
			e          domain.DecisionLogEntry
			parentID   *string
			action     string
			confidence float64
			riskLevel  string
			decision   []byte
			result     []byte
			success    *bool
		)
		if err := rows.Scan(&e.ID, &e.SituationID, &parentID, &e.TaskType, &e.ContextKeys,
			&action, &confidence, &riskLevel, &decision, &result, &success, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan decision: %w", err)
		}
		if parentID != nil {
			e.ParentID = *parentID
		}
		if err := json.Unmarshal(decision, &e.Decision); err != nil {
			return nil, fmt.Errorf("postgres: corrupt decision %s: %w", e.ID, err)
		}
		if len(result) > 0 {
			e.Result = &domain.ActionResult{}
			if err := json.Unmarshal(result, e.Result); err != nil {
				return nil, fmt.Errorf("postgres: corrupt result %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return entries, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
