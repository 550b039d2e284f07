package appauth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ClockSkew is how far in the past the 'iat' claim is placed, so a
	// verifier with a slightly fast clock still accepts the assertion.
	ClockSkew = 60 * time.Second

	// Lifetime is how far past the current time the 'exp' claim is placed.
	// GitHub rejects app assertions with an expiry more than ten minutes out.
	Lifetime = 10 * time.Minute
)

// ErrSigning is returned (wrapped) for any failure to produce an assertion.
var ErrSigning = errors.New("failed to mint app assertion")

// Claims is the payload of an app assertion.
type Claims = jwt.RegisteredClaims

// Minter produces short-lived RS256 assertions identifying a GitHub App.
//
// The held key is read-only after construction, so a single Minter may be
// shared between goroutines.
type Minter struct {
	key *rsa.PrivateKey
	now func() time.Time
}

type Option func(*Minter)

// WithClock overrides the wall clock used to compute claim timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Minter) {
		m.now = now
	}
}

func NewMinter(key *rsa.PrivateKey, opts ...Option) *Minter {
	m := &Minter{
		key: key,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mint returns a freshly signed assertion for the given issuer (the app ID).
// Assertions are never cached; every call signs a new token.
func (m *Minter) Mint(issuer string) (string, error) {
	tok, err := m.mint(issuer)
	if err != nil {
		assertionsMinted.WithLabelValues("error").Inc()
		return "", err
	}
	assertionsMinted.WithLabelValues("ok").Inc()
	return tok, nil
}

func (m *Minter) mint(issuer string) (string, error) {
	if issuer == "" {
		return "", fmt.Errorf("%w: empty issuer", ErrSigning)
	}
	if m.key == nil {
		return "", fmt.Errorf("%w: no signing key", ErrSigning)
	}

	now := m.now()
	if now.IsZero() || now.Unix() <= int64(ClockSkew.Seconds()) {
		return "", fmt.Errorf("%w: unable to read system clock", ErrSigning)
	}

	claims := NewClaims(issuer, now)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSigning, err)
	}
	return tok, nil
}

// NewClaims computes the claim set for an assertion issued at 'now'.
func NewClaims(issuer string, now time.Time) Claims {
	return Claims{
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now.Add(-ClockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(Lifetime)),
	}
}
