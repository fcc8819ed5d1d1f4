// Package credentials is the durable map from (credential set, user) to the
// user's OAuth grant. It is the only mutation path for TokenRecords.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"classauth/internal/authz/models"
	"classauth/internal/platform/logger"
	"classauth/internal/platform/metrics"
	"classauth/pkg/platform/sentinel"
)

// Backend is a keyed KV for records. Get reports absence with
// sentinel.ErrNotFound; Delete of an absent key succeeds.
type Backend interface {
	Get(ctx context.Context, key models.CredentialKey) (*models.TokenRecord, error)
	Put(ctx context.Context, key models.CredentialKey, rec *models.TokenRecord) error
	Delete(ctx context.Context, key models.CredentialKey) error
	Name() string
}

// Revoker invalidates a token at the provider.
type Revoker interface {
	Revoke(ctx context.Context, token string) error
}

// Store wraps a Backend with absent-is-not-an-error loading, best-effort
// remote revocation, logging and latency metrics.
type Store struct {
	backend Backend
	revoker Revoker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Store)

func WithRevoker(r Revoker) Option {
	return func(s *Store) { s.revoker = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, logger: logger.Discard()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Load returns the record for (set, userID), or nil when none exists.
// Records that can no longer be decoded, e.g. after a sealing key rotation,
// are treated as absent so the user is sent back through consent.
func (s *Store) Load(ctx context.Context, set string, userID models.UserID) (*models.TokenRecord, error) {
	key := models.CredentialKey{Set: set, UserID: userID}
	defer s.metrics.ObserveStore(s.backend.Name(), "get", time.Now())

	rec, err := s.backend.Get(ctx, key)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, nil
	case errors.Is(err, sentinel.ErrInvalidState):
		s.logger.WarnContext(ctx, "discarding unreadable credential",
			"user_id", userID, "credential_set", set, "error", err)
		return nil, nil
	default:
		return nil, fmt.Errorf("load credential: %w", err)
	}
}

// Store overwrites the whole record for (set, userID).
func (s *Store) Store(ctx context.Context, set string, userID models.UserID, rec *models.TokenRecord) error {
	if userID.IsZero() {
		return errors.New("store credential: empty user id")
	}
	if rec == nil {
		return errors.New("store credential: nil record")
	}
	defer s.metrics.ObserveStore(s.backend.Name(), "put", time.Now())

	if err := s.backend.Put(ctx, models.CredentialKey{Set: set, UserID: userID}, rec); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// Revoke invalidates the stored grant at the provider, then removes the
// record. Provider failures are logged and never prevent local removal.
func (s *Store) Revoke(ctx context.Context, set string, userID models.UserID) error {
	key := models.CredentialKey{Set: set, UserID: userID}

	rec, loadErr := s.Load(ctx, set, userID)
	if loadErr != nil {
		s.logger.WarnContext(ctx, "could not load credential before revocation",
			"user_id", userID, "error", loadErr)
	}
	if rec != nil && s.revoker != nil {
		if token := revocableToken(rec); token != "" {
			if err := s.revoker.Revoke(ctx, token); err != nil {
				s.logger.WarnContext(ctx, "remote token revocation failed",
					"user_id", userID, "error", err)
			}
		}
	}

	defer s.metrics.ObserveStore(s.backend.Name(), "delete", time.Now())
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// revocableToken prefers the refresh token, whose revocation also invalidates
// the access tokens minted from it.
func revocableToken(rec *models.TokenRecord) string {
	if rec.RefreshToken != "" {
		return rec.RefreshToken
	}
	return rec.AccessToken
}
