package tenancy

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"salus.clinic/internal/fault"
)

const (
	issuer            = "salus"
	secretEnvVariable = "SALUS_AUTH_SECRET"
)

var (
	errMissingSecret = errors.New("auth secret is not configured")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// Claims are the verified identity claims this core consumes. Roles are
// deliberately absent: the profile row, not the token, is the role authority.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken signs an identity JWT for the given caller using HS256.
// Exposed for the admin tooling and tests; verification is the hot path.
func GenerateToken(callerID string, ttl time.Duration) (string, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return "", errors.New("callerID is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   callerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the signature and required claims, classifying failures
// so operators can tell an expired session from a forged token. Revocation is
// a store-side check and happens in the resolver.
func VerifyToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fault.Unauthenticated(fault.ReasonTokenMissing, "missing identity token")
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return nil, fault.Internal("load auth secret", err)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secretBytes, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fault.Unauthenticated(fault.ReasonTokenExpired, "identity token expired")
		}
		return nil, fault.Unauthenticated(fault.ReasonTokenMalformed, "identity token rejected")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fault.Unauthenticated(fault.ReasonTokenMalformed, "identity token rejected")
	}
	if claims.Issuer != issuer || strings.TrimSpace(claims.Subject) == "" {
		return nil, fault.Unauthenticated(fault.ReasonTokenMalformed, "identity token rejected")
	}
	return claims, nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = errMissingSecret
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}
