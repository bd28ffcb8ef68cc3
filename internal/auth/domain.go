package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken indicates a bearer token that failed verification.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the payload of access tokens accepted by the API.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}
