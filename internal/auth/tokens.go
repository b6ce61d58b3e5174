package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"

	revocationPrefix = "access:"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked or expired")
)

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenValidator issues and checks HS256 access tokens. With a Redis client
// every issued token id is recorded and a token whose id is gone is
// rejected, which makes revocation a single DEL.
type TokenValidator struct {
	secret []byte
	issuer string
	rdb    *redis.Client
}

func NewTokenValidator(secret, issuer string, rdb *redis.Client) (*TokenValidator, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("AUTH_JWT_SECRET must be at least 32 characters")
	}
	return &TokenValidator{secret: []byte(secret), issuer: issuer, rdb: rdb}, nil
}

func (v *TokenValidator) IssueToken(ctx context.Context, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	jti := uuid.NewString()

	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    v.issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", err
	}

	if v.rdb != nil {
		if err := v.rdb.Set(ctx, revocationPrefix+jti, userID, ttl).Err(); err != nil {
			return "", fmt.Errorf("failed to record token: %w", err)
		}
	}
	return signed, nil
}

func (v *TokenValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())

	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if v.rdb != nil {
		exists, err := v.rdb.Exists(ctx, revocationPrefix+claims.ID).Result()
		if err != nil || exists != 1 {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

func (v *TokenValidator) RevokeToken(ctx context.Context, jti string) error {
	if v.rdb == nil {
		return nil
	}
	return v.rdb.Del(ctx, revocationPrefix+jti).Err()
}

// ExtractBearerToken returns the token of an "Authorization: Bearer x"
// header, or "".
func ExtractBearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
