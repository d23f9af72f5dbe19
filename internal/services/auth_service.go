package services

import (
	"crypto/subtle"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Token roles.
const (
	RoleAdmin       = "admin"
	RoleParticipant = "participant"
)

type TokenSigner func(subject, role string, ttl time.Duration) (string, error)

// AuthService gates the admin endpoints behind a single configured account.
type AuthService struct {
	username  string
	passHash  []byte
	now       func() time.Time
	signToken TokenSigner
	tokenTTL  time.Duration
}

type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewAuthService(username, passwordHash string, signer TokenSigner, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AuthService{
		username:  username,
		passHash:  []byte(passwordHash),
		now:       func() time.Time { return time.Now().UTC() },
		signToken: signer,
		tokenTTL:  ttl,
	}
}

// Enabled reports whether an admin password hash is configured.
func (s *AuthService) Enabled() bool { return len(s.passHash) > 0 }

func (s *AuthService) Login(username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, NewInvalidError("username/password required")
	}
	if !s.Enabled() {
		return nil, ErrUnauthorized
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	if err := bcrypt.CompareHashAndPassword(s.passHash, []byte(password)); err != nil || !userOK {
		return nil, ErrUnauthorized
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(s.username, RoleAdmin, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresAt: s.now().Add(s.tokenTTL)}, nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

// HashPassword produces the bcrypt hash stored in configuration.
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", NewInvalidError("password required")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
