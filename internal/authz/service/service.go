// Package service runs the incremental authorization state machine: it
// decides whether a stored grant satisfies a flow, sends the user to consent
// when it does not, and reconciles granted scopes on the way back.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"classauth/internal/audit"
	"classauth/internal/authz/models"
	"classauth/internal/platform/logger"
	"classauth/internal/platform/metrics"
)

// CredentialStore persists one TokenRecord per (credential set, user).
type CredentialStore interface {
	Load(ctx context.Context, set string, userID models.UserID) (*models.TokenRecord, error)
	Store(ctx context.Context, set string, userID models.UserID, rec *models.TokenRecord) error
	Revoke(ctx context.Context, set string, userID models.UserID) error
}

// Provider is the OAuth authorization server.
type Provider interface {
	AuthCodeURL(req models.AuthRequest) string
	Exchange(ctx context.Context, code, redirectURI string) (*models.TokenRecord, error)
	Refresh(ctx context.Context, rec *models.TokenRecord) (*models.TokenRecord, error)
}

// IdentityVerifier validates ID tokens.
type IdentityVerifier interface {
	Extract(ctx context.Context, rawIDToken string) (*models.IdentityClaims, error)
}

// StateCodec binds a consent redirect to the flow and user that started it.
type StateCodec interface {
	Sign(kind models.FlowKind, userID models.UserID, returnTo string) (string, error)
	Verify(state string, kind models.FlowKind, userID models.UserID) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the authorization orchestrator.
type Service struct {
	credentials CredentialStore
	provider    Provider
	states      StateCodec
	identity    IdentityVerifier
	auditor     AuditPublisher
	baseURL     string

	refreshes singleflight.Group
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithIdentityVerifier(v IdentityVerifier) Option {
	return func(s *Service) { s.identity = v }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds the orchestrator. baseURL is the externally visible origin the
// provider redirects back to.
func New(credentials CredentialStore, provider Provider, states StateCodec, baseURL string, opts ...Option) *Service {
	s := &Service{
		credentials: credentials,
		provider:    provider,
		states:      states,
		baseURL:     strings.TrimRight(baseURL, "/"),
		now:         time.Now,
		logger:      logger.Discard(),
		tracer:      otel.Tracer("classauth/authz"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RedirectURI is the callback URL registered for fd.
func (s *Service) RedirectURI(fd models.FlowDescriptor) string {
	return s.baseURL + fd.CallbackPath
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "type", string(e.Type), "error", err)
	}
}
