package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ocstransfer/internal/models"
)

const tokenIssuer = "ocs-transfer"

var ErrInvalidToken = errors.New("invalid token claims")

// GenerateToken signs claims for subject with HS256. Roles without explicit
// permissions get the role defaults.
func GenerateToken(secret, subject string, roles []string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("JWT_SECRET not configured")
	}
	var permissions []string
	seen := make(map[string]bool)
	for _, role := range roles {
		for _, p := range models.GetDefaultPermissions(role) {
			if !seen[p] {
				seen[p] = true
				permissions = append(permissions, p)
			}
		}
	}

	now := time.Now()
	claims := models.CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   subject,
		},
		Roles:       roles,
		Permissions: permissions,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken parses and validates a JWT token string.
func ParseToken(secret, tokenStr string) (*models.CallerClaims, error) {
	if secret == "" {
		return nil, errors.New("JWT_SECRET not configured")
	}
	token, err := jwt.ParseWithClaims(tokenStr, &models.CallerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*models.CallerClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
