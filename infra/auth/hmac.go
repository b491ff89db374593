// Package auth verifies the HS256 bearer tokens issued to game clients.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the part of the token the service relies on. Subject is the user id.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Verifier validates compact JWTs signed with HS256.
type Verifier struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewVerifier constructs a verifier for the shared secret and clock skew allowance.
func NewVerifier(secret string, leeway time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Verifier{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// WithClock overrides the verifier clock.
func (v *Verifier) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// Verify checks the signature and expiry and returns the embedded claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &rc,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if strings.TrimSpace(rc.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &Claims{Subject: rc.Subject, ExpiresAt: rc.ExpiresAt.Time}, nil
}

// Issue signs a token for subject. Used by tests and local tooling.
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}).SignedString(v.secret)
}
