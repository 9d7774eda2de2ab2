package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims: claims токена оператора консоли.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "escalations.decide": true
	jwt.RegisteredClaims
}

// Scopes консоли
const (
	ScopeEscalationsRead   = "escalations.read"
	ScopeEscalationsDecide = "escalations.decide"
	ScopeExecutorsManage   = "executors.manage"
	ScopeDecisionsRead     = "decisions.read"
	ScopeRulesManage       = "rules.manage"
	// ScopeSituationsSubmit: сервисный токен декомпозитора задач
	ScopeSituationsSubmit = "situations.submit"
)

// Allows проверяет scope. "admin" разрешает все.
func (c *CustomClaims) Allows(scope string) bool {
	return c.Scopes["admin"] || c.Scopes[scope]
}
