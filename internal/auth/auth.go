// Package auth authenticates HTTP transport callers with JWT bearer tokens or
// bcrypt-hashed API keys.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoCredentials      = errors.New("no credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokensDisabled     = errors.New("jwt_secret is not configured")
)

type Auth struct {
	secret  []byte
	expiry  time.Duration
	keyHash []string
}

type Claims struct {
	jwt.RegisteredClaims
}

// New builds an authenticator. An empty secret disables JWT tokens; no key
// hashes disables API keys. With both disabled every request is anonymous.
func New(secret string, expiryMinutes int, apiKeyHashes []string) *Auth {
	return &Auth{
		secret:  []byte(secret),
		expiry:  time.Duration(expiryMinutes) * time.Minute,
		keyHash: apiKeyHashes,
	}
}

// Enabled reports whether requests must carry credentials.
func (a *Auth) Enabled() bool {
	return len(a.secret) > 0 || len(a.keyHash) > 0
}

func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckKey reports whether key matches one of the configured hashes.
func (a *Auth) CheckKey(key string) bool {
	for _, h := range a.keyHash {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
			return true
		}
	}
	return false
}

func (a *Auth) GenerateToken(subject string) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrTokensDisabled
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrTokensDisabled
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Authenticate resolves the caller of r. A bearer value is tried as a JWT
// first, then as an API key; X-API-Key is accepted as well. API-key callers
// get the subject "api-key".
func (a *Auth) Authenticate(r *http.Request) (string, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		if a.CheckKey(key) {
			return "api-key", nil
		}
		return "", ErrInvalidCredentials
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrInvalidCredentials
	}
	cred := strings.TrimSpace(parts[1])
	if len(a.secret) > 0 {
		if claims, err := a.ValidateToken(cred); err == nil {
			return claims.Subject, nil
		}
	}
	if a.CheckKey(cred) {
		return "api-key", nil
	}
	return "", ErrInvalidCredentials
}

type subjectKey struct{}

// SubjectFrom returns the subject stored by Middleware, or "".
func SubjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// Middleware rejects unauthenticated requests with 401 when auth is enabled
// and stores the subject in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		subject, err := a.Authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sqlitemcp"`)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}
