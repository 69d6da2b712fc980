package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	issuerName = "rag-knowledge-platform"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevokedToken = errors.New("token revoked or expired")
)

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// Issuer signs and validates access tokens. With a Redis client every token
// id is registered on issue and must still exist on validation, so tokens
// can be revoked.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	rdb    *redis.Client
}

func NewIssuer(secret string, ttl time.Duration, rdb *redis.Client) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, rdb: rdb}, nil
}

// Issue returns a signed token and its expiry.
func (i *Issuer) Issue(ctx context.Context, userID, role string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	if role != RoleAdmin && role != RoleUser {
		return "", time.Time{}, fmt.Errorf("unknown role %q", role)
	}

	now := time.Now()
	exp := now.Add(i.ttl)
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuerName,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	if i.rdb != nil {
		if err := i.rdb.Set(ctx, "access:"+claims.ID, userID, i.ttl).Err(); err != nil {
			return "", time.Time{}, fmt.Errorf("register token: %w", err)
		}
	}
	return signed, exp, nil
}

func (i *Issuer) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuerName))
	if err != nil || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	if i.rdb != nil {
		exists, err := i.rdb.Exists(ctx, "access:"+claims.ID).Result()
		if err != nil || exists != 1 {
			return nil, ErrRevokedToken
		}
	}
	return claims, nil
}

// Revoke invalidates a token id. It needs Redis.
func (i *Issuer) Revoke(ctx context.Context, jti string) error {
	if i.rdb == nil {
		return errors.New("token revocation requires redis")
	}
	return i.rdb.Del(ctx, "access:"+jti).Err()
}
