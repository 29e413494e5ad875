// Package identity wraps the external identity provider's bearer token
// format. It never leaks provider-specific errors to callers — every
// failure collapses to ErrInvalidToken, the way the teacher's internal/jwt
// package never surfaces the underlying jwt-go error to HTTP callers.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

// ErrInvalidToken is the single opaque failure kind VerifyToken returns.
var ErrInvalidToken = errors.New("identity: invalid token")

// Claims is the identity the external provider asserts for a bearer token.
type Claims struct {
	UserID       string
	TenantID     string
	TenantRole   string
	PlatformRole string
	Email        string
	DisplayName  string
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken validates a bearer token string and extracts the identity
// claims. It is used by both the request surface and the session
// handshake, per spec §4.1.
func (v *Verifier) VerifyToken(tokenString string) (Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Claims{}, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	if exp, ok := claims["exp"].(float64); ok {
		if time.Now().Unix() > int64(exp) {
			return Claims{}, ErrInvalidToken
		}
	}

	userID, _ := claims["userId"].(string)
	if userID == "" {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{
		UserID:       userID,
		TenantID:     stringClaim(claims, "tenantId"),
		TenantRole:   stringClaim(claims, "tenantRole"),
		PlatformRole: stringClaim(claims, "platformRole"),
		Email:        stringClaim(claims, "email"),
		DisplayName:  stringClaim(claims, "displayName"),
	}

	return out, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
