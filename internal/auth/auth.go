// Package auth issues and verifies the JWT bearer tokens guarding the
// admin API.  Credentials come from the platform configuration: a single
// bootstrap admin user whose password may be stored either as plaintext
// (dev) or a bcrypt hash (anything else).
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/httputil"
)

type ctxKey struct{}

// Manager mints and validates tokens.
type Manager struct {
	secret   []byte
	ttl      time.Duration
	user     string
	password string // plaintext or bcrypt hash
}

// New builds a Manager.
func New(secret string, ttl time.Duration, user, password string) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), ttl: ttl, user: user, password: password}
}

// Login checks the bootstrap credentials and returns a signed token.
func (m *Manager) Login(user, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(m.user)) == 1
	if !userOK || !m.passwordOK(password) {
		return "", apperr.New(apperr.CodeLoginFailed, "invalid credentials", http.StatusUnauthorized)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		Issuer:    "platformx",
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", apperr.Internal(err)
	}
	return signed, nil
}

func (m *Manager) passwordOK(password string) bool {
	if strings.HasPrefix(m.password, "$2a$") || strings.HasPrefix(m.password, "$2b$") ||
		strings.HasPrefix(m.password, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(m.password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) == 1
}

// Verify parses and validates a token, returning its subject.
func (m *Manager) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return m.secret, nil
		})
	if err != nil {
		code := apperr.CodeTokenInvalid
		msg := "invalid token"
		if strings.Contains(err.Error(), "expired") {
			code = apperr.CodeTokenExpired
			msg = "token expired"
		}
		return "", apperr.New(code, msg, http.StatusUnauthorized)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", apperr.New(apperr.CodeTokenInvalid, "invalid token", http.StatusUnauthorized)
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// subject in the context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			httputil.Error(w, r, apperr.Unauthorized("missing bearer token"))
			return
		}
		subject, err := m.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			httputil.Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
	})
}

// WithSubject attaches the authenticated subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKey{}, subject)
}

// Subject extracts the authenticated subject, "" when unauthenticated.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}
