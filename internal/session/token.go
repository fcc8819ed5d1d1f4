// Package session issues the signed tokens that carry a browser's user
// identifier and correlate a consent redirect with its callback.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classauth/pkg/platform/sentinel"
)

const (
	issuer          = "classauth"
	sessionAudience = "classauth/session"
	stateAudience   = "classauth/state"

	DefaultSessionTTL = 12 * time.Hour
	DefaultStateTTL   = 10 * time.Minute
)

var errInvalidToken = errors.New("invalid token")

type config struct {
	ttl    time.Duration
	secure bool
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager or StateSigner.
type Option func(*config)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithSecureCookie marks issued cookies Secure.
func WithSecureCookie(secure bool) Option {
	return func(c *config) { c.secure = secure }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock injects the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

func newConfig(defaultTTL time.Duration, opts []Option) config {
	c := config{
		ttl:    defaultTTL,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// signer wraps HS256 signing and validation for one audience.
type signer struct {
	key      []byte
	audience string
	now      func() time.Time
}

func (s signer) registered(subject string, ttl time.Duration, id string) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        id,
	}
}

func (s signer) sign(claims jwt.Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// parse validates signature, issuer, audience and expiry. Expired tokens are
// reported as sentinel.ErrExpired.
func (s signer) parse(raw string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return sentinel.ErrExpired
		}
		return fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !parsed.Valid {
		return errInvalidToken
	}
	return nil
}
