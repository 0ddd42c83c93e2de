// Package auth verifies the bearer credentials issued by the platform's
// identity service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	TokenCookieKey = "token"
	TokenQueryKey  = "token"

	subjectClaim = "sub"
	userIdClaim  = "user-id"
	emailClaim   = "email"
	roleClaim    = "role"
	expClaim     = "exp"
)

var ErrNoToken = errors.New("no credential presented")

type Claims struct {
	SubjectId string
	Email     string
	Role      string
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

func (v *Verifier) Verify(tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, ErrNoToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, errors.New("invalid token")
	}

	claims := Claims{
		SubjectId: stringClaim(mc, subjectClaim),
		Email:     stringClaim(mc, emailClaim),
		Role:      stringClaim(mc, roleClaim),
	}
	if claims.SubjectId == "" {
		claims.SubjectId = stringClaim(mc, userIdClaim)
	}
	if claims.SubjectId == "" {
		return Claims{}, errors.New("token has no subject")
	}

	return claims, nil
}

func stringClaim(mc jwt.MapClaims, key string) string {
	s, _ := mc[key].(string)
	return s
}

// Sign issues a token for claims valid for exp. The service itself never
// logs users in; this exists for tooling and tests.
func (v *Verifier) Sign(claims Claims, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subjectClaim: claims.SubjectId,
		emailClaim:   claims.Email,
		roleClaim:    claims.Role,
		expClaim:     time.Now().Add(exp).Unix(),
	})

	return token.SignedString(v.secret)
}

// TokenFromRequest returns the credential from the Authorization header, the
// token query parameter, or the token cookie, in that order.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}

	if token := r.URL.Query().Get(TokenQueryKey); token != "" {
		return token
	}

	if cookie, err := r.Cookie(TokenCookieKey); err == nil {
		return cookie.Value
	}

	return ""
}

type contextKey string

const claimsKey contextKey = "claims"

func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func FromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(Claims)
	return claims, ok
}

// UserId returns the authenticated subject stored in ctx.
func UserId(ctx context.Context) (string, bool) {
	claims, ok := FromContext(ctx)
	if !ok || claims.SubjectId == "" {
		return "", false
	}
	return claims.SubjectId, true
}
