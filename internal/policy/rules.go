package policy

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"go.uber.org/zap"
)

// RuleEngine: in-memory кэш скомпилированных правил.
// Источник читается только в Refresh, Check работает исключительно с RAM (Hot Path).
type RuleEngine struct {
	mu         sync.RWMutex
	loaded     bool
	mandatory  []MandatoryRule
	escalate   []Matcher
	autonomous []Matcher

	src    RuleSource
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRuleEngine(src RuleSource, rdb *redis.Client, logger *zap.Logger) *RuleEngine {
	return &RuleEngine{
		src:    src,
		rdb:    rdb,
		logger: logger.Named("rules"),
	}
}

// Refresh перечитывает набор правил. Невалидный набор не заменяет текущий.
func (e *RuleEngine) Refresh(ctx context.Context) error {
	rs, err := e.src.Load(ctx)
	if err != nil {
		return err
	}
	e.Apply(rs)
	return nil
}

// Apply атомарно подменяет правила уже провалидированным набором.
func (e *RuleEngine) Apply(rs *RuleSet) {
	mandatory := compileMandatory(rs.Mandatory)

	e.mu.Lock()
	e.mandatory = mandatory
	e.escalate = rs.AlwaysEscalate
	e.autonomous = rs.AlwaysAutonomous
	e.loaded = true
	e.mu.Unlock()

	e.logger.Info("rule set refreshed",
		zap.Int("mandatory", len(mandatory)),
		zap.Int("always_escalate", len(rs.AlwaysEscalate)),
		zap.Int("always_autonomous", len(rs.AlwaysAutonomous)),
	)
}

// Check оценивает все обязательные правила и сообщает все нарушения.
// Настраиваемые правила проверяются только если обязательные прошли.
func (e *RuleEngine) Check(s *domain.Situation, a domain.SituationAnalysis) domain.RulesCheck {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.loaded {
		return domain.RulesCheck{Passed: false, Violations: []string{ruleNotLoaded}}
	}

	res := domain.RulesCheck{Passed: true}
	for _, r := range e.mandatory {
		if r.Violated(s, a) {
			res.Violations = append(res.Violations, r.ID)
		}
	}
	if len(res.Violations) > 0 {
		res.Passed = false
		return res
	}

	// Человек уже принял решение по этой ситуации, повторно не эскалируем
	approval, approved := s.HumanApproval()
	res.HumanApproval = approval
	if !approved {
		for _, m := range e.escalate {
			if m.Matches(s.Task.Type, s.Task.HasTag) {
				res.EscalateMatches = append(res.EscalateMatches, m.Name)
			}
		}
	}
	for _, m := range e.autonomous {
		if m.Matches(s.Task.Type, s.Task.HasTag) {
			res.AutonomousMatches = append(res.AutonomousMatches, m.Name)
		}
	}
	return res
}

// StartListener перечитывает правила по сигналу из Redis (и после переподключения).
func (e *RuleEngine) StartListener(ctx context.Context) {
	e.logger.Info("rules listener started", zap.String("chan", infra.RedisChanRulesUpdate))
	infra.ListenResilient(ctx, e.rdb, e.logger, infra.RedisChanRulesUpdate,
		e.Refresh,
		func(_ string) {
			if err := e.Refresh(ctx); err != nil {
				e.logger.Error("rule refresh failed, keeping previous rule set", zap.Error(err))
			}
		},
	)
}
