package services

import (
	"errors"
	"testing"
	"time"
)

func TestAuthLogin(t *testing.T) {
	hash, err := HashPassword("Secret123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	svc := NewAuthService("admin", hash, func(sub, role string, ttl time.Duration) (string, error) {
		return "token:" + sub + ":" + role, nil
	}, time.Hour)
	svc.now = func() time.Time { return time.Unix(0, 0).UTC() }

	res, err := svc.Login("admin", "Secret123")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if res.Token != "token:admin:admin" {
		t.Fatalf("unexpected token %q", res.Token)
	}
	if !res.ExpiresAt.Equal(time.Unix(3600, 0)) {
		t.Fatalf("expires = %v", res.ExpiresAt)
	}

	if _, err := svc.Login("admin", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for wrong password, got %v", err)
	}
	if _, err := svc.Login("root", "Secret123"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for wrong user, got %v", err)
	}
}

func TestAuthValidation(t *testing.T) {
	svc := NewAuthService("admin", "", func(string, string, time.Duration) (string, error) { return "tok", nil }, 0)
	if svc.Enabled() {
		t.Fatalf("no hash means disabled")
	}
	if _, err := svc.Login("", ""); err == nil {
		t.Fatalf("expected validation error on login")
	}
	if _, err := svc.Login("admin", "x"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("disabled admin must reject, got %v", err)
	}
	if svc.TokenTTL() != 12*time.Hour {
		t.Fatalf("default ttl = %v", svc.TokenTTL())
	}
	if _, err := HashPassword(" "); err == nil {
		t.Fatalf("blank password must be rejected")
	}
}
