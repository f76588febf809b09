package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shipbatch/shipbatch/internal/domain"
)

// Principal is the authenticated caller yielded by the authentication
// provider. UserID scopes batch ownership checks downstream.
type Principal struct {
	UserID int64
	Active bool
}

// Authenticator validates a bearer credential and yields its principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// JWTAuthenticator validates HS256 bearer tokens whose subject is the numeric
// user id. An optional "active" claim gates disabled accounts; absent means
// active.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) (*JWTAuthenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTAuthenticator{secret: []byte(secret)}, nil
}

type tokenClaims struct {
	Active *bool `json:"active,omitempty"`
	jwt.RegisteredClaims
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (*Principal, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(trimmed, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid bearer token", domain.ErrUnauthorized)
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: token subject is missing", domain.ErrUnauthorized)
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(subject), 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: token subject is not a user id", domain.ErrUnauthorized)
	}

	active := true
	if claims.Active != nil {
		active = *claims.Active
	}

	return &Principal{UserID: userID, Active: active}, nil
}
