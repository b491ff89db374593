package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newFixedVerifier(t *testing.T, leeway time.Duration) (*Verifier, time.Time) {
	t.Helper()
	v, err := NewVerifier("secret", leeway)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	now := time.Unix(1700000000, 0)
	v.WithClock(func() time.Time { return now })
	return v, now
}

func TestVerifierValidToken(t *testing.T) {
	v, now := newFixedVerifier(t, time.Second)

	token, err := v.Issue("user-7", 30*time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != "user-7" {
		t.Fatalf("unexpected subject: %q", claims.Subject)
	}
	if !claims.ExpiresAt.After(now) {
		t.Fatal("expected expiry in the future")
	}
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	v, now := newFixedVerifier(t, 0)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-7",
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifierRejectsInvalidTokens(t *testing.T) {
	v, now := newFixedVerifier(t, time.Second)

	otherSecret, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-7",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}).SignedString([]byte("other-secret"))
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "user-7",
	}).SignedString([]byte("secret"))
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}).SignedString([]byte("secret"))

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "a.b.c",
		"other secret": otherSecret,
		"no expiry":    noExpiry,
		"no subject":   noSubject,
	} {
		if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("  ", time.Second); err == nil {
		t.Fatal("expected error for blank secret")
	}
}
