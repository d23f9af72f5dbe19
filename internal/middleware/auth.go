package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type authCtxKey int

const authKey authCtxKey = 7

// Claims identify either a participant (Subject is the participant ID) or the
// admin (Subject is the admin username).
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 tokens carried in the Authorization
// header or in the participant cookie.
type Authenticator struct {
	secret     []byte
	cookieName string
	now        func() time.Time
}

func NewAuthenticator(secret, cookieName string) *Authenticator {
	return &Authenticator{secret: []byte(secret), cookieName: cookieName, now: time.Now}
}

// CookieName is the name of the participant session cookie.
func (a *Authenticator) CookieName() string { return a.cookieName }

func (a *Authenticator) SignToken(subject, role string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("empty token subject")
	}
	now := a.now()
	claims := Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) parseToken(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid && c.Subject != "" {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// SetSessionCookie writes the participant token cookie.
func (a *Authenticator) SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
}

// WithAuth attaches every valid credential on the request to its context. A
// request may carry both an admin bearer token and a participant cookie.
func (a *Authenticator) WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var found []*Claims
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			if c, err := a.parseToken(tok); err == nil {
				found = append(found, c)
			}
		}
		if ck, err := r.Cookie(a.cookieName); err == nil && ck.Value != "" {
			if c, err := a.parseToken(ck.Value); err == nil {
				found = append(found, c)
			}
		}
		if len(found) > 0 {
			r = r.WithContext(context.WithValue(r.Context(), authKey, found))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests without a valid token for role.
func RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SubjectFromContext(r.Context(), role); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": "authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SubjectFromContext returns the subject of the first credential with role.
func SubjectFromContext(ctx context.Context, role string) (string, bool) {
	all, _ := ctx.Value(authKey).([]*Claims)
	for _, c := range all {
		if c.Role == role {
			return c.Subject, true
		}
	}
	return "", false
}
