package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"classauth/internal/audit"
	"classauth/internal/authz/models"
	dErrors "classauth/pkg/domain-errors"
)

// Callback completes fd after the provider redirects back. On any failure
// nothing is persisted. On success fd's scopes are unioned into the stored
// grant and the return path carried in the state is handed back.
func (s *Service) Callback(ctx context.Context, userID models.UserID, fd models.FlowDescriptor, params models.CallbackParams) (*models.CallbackResult, error) {
	ctx, span := s.tracer.Start(ctx, "authz.Callback", trace.WithAttributes(attribute.String("flow", fd.Kind.String())))
	defer span.End()

	returnTo, err := s.states.Verify(params.State, fd.Kind, userID)
	if err != nil {
		span.SetStatus(codes.Error, "state mismatch")
		return nil, s.fail(ctx, userID, fd, "state_mismatch", err,
			dErrors.CodeUnauthorized, "invalid authorization state")
	}
	if params.Error != "" {
		err := fmt.Errorf("%w: provider returned %s", models.ErrExchangeFailed, params.Error)
		if params.ErrorDescription != "" {
			err = fmt.Errorf("%w (%s)", err, params.ErrorDescription)
		}
		span.SetStatus(codes.Error, params.Error)
		return nil, s.fail(ctx, userID, fd, params.Error, err,
			dErrors.CodeUnauthorized, "authorization was not granted")
	}
	if params.Code == "" {
		return nil, s.fail(ctx, userID, fd, "missing_code",
			fmt.Errorf("%w: missing authorization code", models.ErrExchangeFailed),
			dErrors.CodeBadRequest, "missing authorization code")
	}

	tok, err := s.provider.Exchange(ctx, params.Code, s.RedirectURI(fd))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, models.ErrExchangeFailed) {
			err = fmt.Errorf("%w: %w", models.ErrExchangeFailed, err)
		}
		return nil, s.fail(ctx, userID, fd, "exchange_failed", err,
			dErrors.CodeUnauthorized, "authorization code exchange failed")
	}

	existing, err := s.credentials.Load(ctx, fd.CredentialSet, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncAuthorization(fd.Kind.String(), "error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}

	rec := tok.Clone()
	rec.GrantedScopes = fd.Scopes
	if existing != nil {
		rec.GrantedScopes = existing.GrantedScopes.Union(fd.Scopes)
		if rec.RefreshToken == "" {
			rec.RefreshToken = existing.RefreshToken
		}
		if rec.IDToken == "" {
			rec.IDToken = existing.IDToken
		}
	}
	rec.UpdatedAt = s.now()

	if err := s.credentials.Store(ctx, fd.CredentialSet, userID, rec); err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncAuthorization(fd.Kind.String(), "error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store credential")
	}

	s.metrics.IncAuthorization(fd.Kind.String(), "authorized")
	s.logger.InfoContext(ctx, "authorization completed",
		"user_id", userID, "flow", fd.Kind.String(), "scopes", rec.GrantedScopes.String())
	s.emit(ctx, audit.Event{
		Type:   audit.EventAuthorizationCompleted,
		UserID: userID.String(),
		Flow:   fd.Kind.String(),
		Scopes: rec.GrantedScopes,
	})
	return &models.CallbackResult{
		Credential: models.NewCredential(userID, fd.Kind, rec),
		ReturnTo:   returnTo,
	}, nil
}

func (s *Service) fail(ctx context.Context, userID models.UserID, fd models.FlowDescriptor, reason string, err error, code dErrors.Code, msg string) error {
	s.metrics.IncAuthorization(fd.Kind.String(), "failed")
	s.logger.WarnContext(ctx, "authorization failed",
		"user_id", userID, "flow", fd.Kind.String(), "reason", reason, "error", err)
	s.emit(ctx, audit.Event{
		Type:   audit.EventAuthorizationFailed,
		UserID: userID.String(),
		Flow:   fd.Kind.String(),
		Reason: reason,
	})
	return dErrors.Wrap(err, code, msg)
}
