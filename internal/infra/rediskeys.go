package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "autonomy"
)

// Ключи (состояние)
const (
	RedisKeyBlockedExecutors = RedisNamespace + ":executors:blocked_set"
	RedisKeyLockBlocked      = RedisNamespace + ":lock:warmup:blocked"
	// RedisKeyThresholds: JSON снимок адаптивных порогов, переживает рестарт
	RedisKeyThresholds     = RedisNamespace + ":thresholds"
	RedisKeyLockThresholds = RedisNamespace + ":lock:warmup:thresholds"
	// RedisKeyLockEscalationResume + id — только один инстанс возобновляет одобренную эскалацию
	RedisKeyLockEscalationResume = RedisNamespace + ":escalations:resume:"
	// RedisKeyDecisionStats + окно в секундах: JSON сводки журнала для консоли
	RedisKeyDecisionStats = RedisNamespace + ":decisions:stats:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanKillSwitch: "executor_ref:on|off"
	RedisChanKillSwitch = RedisNamespace + ":executors:kill-switch-signal"
	// RedisChanRulesUpdate: сигнал на перечитывание файла правил
	RedisChanRulesUpdate = RedisNamespace + ":rules:update"
	// RedisChanEscalations: новые заявки на решение человека
	RedisChanEscalations = RedisNamespace + ":escalations"
	// RedisChanEscalationDecisions: решения оператора (HITL), слушает оркестратор
	RedisChanEscalationDecisions = RedisNamespace + ":escalations:decisions"
)

// GetWarmupLockKey Генератор ключей для блокировок (если нужны динамические)
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
