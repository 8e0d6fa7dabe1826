package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	// RoleAccount is a marketplace party acting on its own transactables.
	RoleAccount Role = "account"
	// RoleOperator may settle, dispute and read any ledger.
	RoleOperator Role = "operator"
)

var ErrInvalidClaims = errors.New("invalid token claims")

type Claims struct {
	AccountID string
	Role      Role
}

// Actor names the caller in the settlement audit trail.
func (c *Claims) Actor() string {
	return string(c.Role) + ":" + c.AccountID
}

func (c *Claims) IsOperator() bool {
	return c.Role == RoleOperator
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func GenerateToken(accountID string, role Role, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: string(role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateToken: %w", ErrInvalidClaims)
	}
	if tc.Subject == "" {
		return nil, fmt.Errorf("ValidateToken: missing subject: %w", ErrInvalidClaims)
	}

	role := Role(tc.Role)
	switch role {
	case RoleAccount, RoleOperator:
	case "":
		role = RoleAccount
	default:
		return nil, fmt.Errorf("ValidateToken: role %q: %w", tc.Role, ErrInvalidClaims)
	}

	return &Claims{AccountID: tc.Subject, Role: role}, nil
}
