package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

var (
	// ErrAnonymousToken: в токене нет user_id. Им подписывается решение по эскалации.
	ErrAnonymousToken = errors.New("token has no user_id")
	// ErrNoScopes: токен без единого scope ничего не разрешает, отклоняем сразу.
	ErrNoScopes = errors.New("token grants no scopes")
)

// BaseValidator проверяет RS256 токены двух видов: операторов консоли (escalations.*, executors.manage,
// decisions.read, rules.manage) и сервисный токен декомпозитора (situations.submit).
// Оба выпускает внешний IdP, у движка только публичный ключ.
type BaseValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{
		publicKey: pubKey,
		// Бессрочный сервисный токен не принимаем
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// VerifyToken реализует auth.TokenValidator. Scope здесь не сверяется, это делает RequireScope
// на маршруте консоли или UnaryAuthInterceptor на входе ситуаций.
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))

	claims := &domain.CustomClaims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	switch {
	case claims.UserID == "":
		return nil, ErrAnonymousToken
	case len(claims.Scopes) == 0:
		return nil, ErrNoScopes
	}
	return claims, nil
}

// ParseRSAPublicKey читает PEM из auth.public_key_path.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
