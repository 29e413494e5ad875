package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestVerifyTokenValid(t *testing.T) {
	v := NewVerifier("test-secret")
	token := signToken(t, "test-secret", jwt.MapClaims{
		"userId":     "user-1",
		"tenantId":   "tenant-1",
		"tenantRole": "manager",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken returned error: %v", err)
	}
	if claims.UserID != "user-1" || claims.TenantID != "tenant-1" || claims.TenantRole != "manager" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	v := NewVerifier("test-secret")
	token := signToken(t, "test-secret", jwt.MapClaims{
		"userId": "user-1",
		"exp":    time.Now().Add(-time.Hour).Unix(),
	})

	if _, err := v.VerifyToken(token); err != ErrInvalidToken {
		t.Fatalf("VerifyToken with expired token = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	v := NewVerifier("test-secret")
	token := signToken(t, "other-secret", jwt.MapClaims{
		"userId": "user-1",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.VerifyToken(token); err != ErrInvalidToken {
		t.Fatalf("VerifyToken with wrong secret = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyTokenMissingUserID(t *testing.T) {
	v := NewVerifier("test-secret")
	token := signToken(t, "test-secret", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.VerifyToken(token); err != ErrInvalidToken {
		t.Fatalf("VerifyToken with no userId = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyTokenEmptyString(t *testing.T) {
	v := NewVerifier("test-secret")
	if _, err := v.VerifyToken(""); err != ErrInvalidToken {
		t.Fatalf("VerifyToken(\"\") = %v, want ErrInvalidToken", err)
	}
}
