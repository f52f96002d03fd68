package service

import (
	"errors"
	"testing"
	"time"

	"github.com/lumina-pay/internal/config"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()
	cfg := &config.Config{}
	cfg.Admin.Username = "admin"
	cfg.Admin.JWTSecret = "test-secret-0123456789-0123456789"
	cfg.Admin.TokenExpireHours = 1

	svc := NewAuthService(cfg)
	hash, err := svc.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash password failed: %v", err)
	}
	cfg.Admin.PasswordHash = hash
	return svc
}

func TestPasswordHashRoundtrip(t *testing.T) {
	svc := newTestAuthService(t)
	hash, err := svc.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if err := svc.VerifyPassword(hash, "s3cret"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if err := svc.VerifyPassword(hash, "wrong"); err == nil {
		t.Fatalf("wrong password must not verify")
	}
}

func TestLoginAndParseJWT(t *testing.T) {
	svc := newTestAuthService(t)

	token, expiresAt, err := svc.Login("admin", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if token == "" || !expiresAt.After(time.Now()) {
		t.Fatalf("invalid token or expiry: %q %v", token, expiresAt)
	}

	claims, err := svc.ParseJWT(token)
	if err != nil {
		t.Fatalf("parse jwt failed: %v", err)
	}
	if claims.Username != "admin" {
		t.Fatalf("username want admin got %s", claims.Username)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestAuthService(t)

	if _, _, err := svc.Login("admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, _, err := svc.Login("nobody", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestParseJWTRejectsTampered(t *testing.T) {
	svc := newTestAuthService(t)
	token, _, err := svc.GenerateJWT("admin")
	if err != nil {
		t.Fatalf("generate jwt failed: %v", err)
	}
	if _, err := svc.ParseJWT(token + "x"); err == nil {
		t.Fatalf("tampered token must not parse")
	}

	// 换密钥后旧 token 必须失效
	other := NewAuthService(func() *config.Config {
		cfg := &config.Config{}
		cfg.Admin.JWTSecret = "another-secret-0123456789-012345"
		return cfg
	}())
	if _, err := other.ParseJWT(token); err == nil {
		t.Fatalf("token signed with different secret must not parse")
	}
}
