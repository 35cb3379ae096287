package authbridge

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims AccessClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestValidateAccessTokenAccepts(t *testing.T) {
	v := NewValidator("shared-secret")
	claims := AccessClaims{
		UserID:      "user-1",
		DisplayName: "Ada",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tokenString := signToken(t, "shared-secret", claims)

	got, err := v.ValidateAccessToken(tokenString)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if got.UserID != "user-1" {
		t.Fatalf("expected userId user-1, got %s", got.UserID)
	}
}

func TestValidateAccessTokenRejectsWrongSecret(t *testing.T) {
	v := NewValidator("shared-secret")
	claims := AccessClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tokenString := signToken(t, "different-secret", claims)

	if _, err := v.ValidateAccessToken(tokenString); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateAccessTokenRejectsExpired(t *testing.T) {
	v := NewValidator("shared-secret")
	claims := AccessClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	tokenString := signToken(t, "shared-secret", claims)

	if _, err := v.ValidateAccessToken(tokenString); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}
