package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
)

// PrincipalLoader resolves a user id into a Principal.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, userID int64) (rbac.Principal, error)
}

// Service verifies access tokens and resolves principals.
type Service struct {
	secret []byte
	loader PrincipalLoader
	now    func() time.Time
}

// NewService constructs a new Service.
func NewService(secret string, loader PrincipalLoader) *Service {
	return &Service{secret: []byte(secret), loader: loader, now: time.Now}
}

// Verify parses an HS256 token and returns its claims.
func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims, nil
}

// Authenticate verifies token and loads the principal it names.
func (s *Service) Authenticate(ctx context.Context, token string) (rbac.Principal, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return nil, err
	}
	return s.loader.LoadPrincipal(ctx, claims.UserID)
}

// Issue signs a token for userID valid for ttl. Used by operator tooling and tests.
func (s *Service) Issue(userID int64, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
