// Package authbridge validates the bearer tokens issued by the external
// auth provider (spec.md §1 names it an external collaborator — this
// broker never issues, refreshes, or stores credentials itself).
package authbridge

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("authbridge: invalid token")
	ErrExpiredToken = errors.New("authbridge: token has expired")
)

// AccessClaims is the subset of the provider's access token this broker
// actually reads: the authenticated user's opaque id and display identity.
type AccessClaims struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	jwt.RegisteredClaims
}

// Validator checks bearer tokens against the provider's shared secret. It
// never generates tokens — issuance, refresh, and password flows live
// entirely in the external auth provider.
type Validator struct {
	secret []byte
}

func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// ValidateAccessToken parses and verifies tokenString, returning the
// claims on success.
func (v *Validator) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
