package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"classauth/internal/audit"
	"classauth/internal/authz/models"
	dErrors "classauth/pkg/domain-errors"
)

// promptConsent makes the provider issue a fresh refresh token.
const promptConsent = "consent"

// Authorize returns a usable credential for fd, or a redirect to the consent
// screen when the stored grant is absent, lacks fd's scopes, or has expired
// beyond refresh. returnTo travels in the state and comes back from Callback.
func (s *Service) Authorize(ctx context.Context, userID models.UserID, fd models.FlowDescriptor, returnTo string) (*models.AuthorizationResult, error) {
	ctx, span := s.tracer.Start(ctx, "authz.Authorize", trace.WithAttributes(attribute.String("flow", fd.Kind.String())))
	defer span.End()

	if userID.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing session")
	}

	rec, err := s.credentials.Load(ctx, fd.CredentialSet, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncAuthorization(fd.Kind.String(), "error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}

	var reason models.ConsentReason
	switch {
	case rec == nil:
		reason = models.ReasonNoCredential
	case !models.IsSatisfied(fd.Scopes, rec.GrantedScopes):
		reason = models.ReasonInsufficientScope
	case rec.IsExpired(s.now()):
		if rec.RefreshToken == "" {
			reason = models.ReasonExpired
			break
		}
		refreshed, err := s.refresh(ctx, models.CredentialKey{Set: fd.CredentialSet, UserID: userID}, rec)
		switch {
		case err == nil:
			rec = refreshed
		case errors.Is(err, models.ErrTokenExpired):
			s.logger.InfoContext(ctx, "refresh rejected by provider", "user_id", userID, "error", err)
			reason = models.ReasonExpired
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			span.SetStatus(codes.Error, err.Error())
			s.metrics.IncAuthorization(fd.Kind.String(), "error")
			if _, coded := dErrors.As(err); coded {
				return nil, err
			}
			return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "token refresh failed")
		}
	}

	if reason != "" {
		span.SetAttributes(attribute.String("consent_reason", string(reason)))
		return s.requestConsent(ctx, userID, fd, rec, reason, returnTo)
	}

	s.metrics.IncAuthorization(fd.Kind.String(), "authorized")
	return &models.AuthorizationResult{Credential: models.NewCredential(userID, fd.Kind, rec)}, nil
}

// requestConsent disables any stale record and builds the consent redirect.
// Granted scopes survive so the callback can union onto them.
func (s *Service) requestConsent(ctx context.Context, userID models.UserID, fd models.FlowDescriptor, rec *models.TokenRecord, reason models.ConsentReason, returnTo string) (*models.AuthorizationResult, error) {
	if rec != nil {
		cleared := models.ForceReauthorization(*rec)
		cleared.UpdatedAt = s.now()
		if err := s.credentials.Store(ctx, fd.CredentialSet, userID, &cleared); err != nil {
			s.metrics.IncAuthorization(fd.Kind.String(), "error")
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store credential")
		}
	}

	state, err := s.states.Sign(fd.Kind, userID, returnTo)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign state")
	}

	prompt := fd.Prompt
	if reason == models.ReasonExpired {
		prompt = withConsentPrompt(prompt)
	}
	redirect := s.provider.AuthCodeURL(models.AuthRequest{
		Scopes:               fd.Scopes,
		State:                state,
		RedirectURI:          s.RedirectURI(fd),
		LoginHint:            fd.LoginHint,
		Prompt:               prompt,
		Offline:              true,
		IncludeGrantedScopes: true,
	})

	s.metrics.IncConsentRedirect(fd.Kind.String(), string(reason))
	s.logger.InfoContext(ctx, "consent required",
		"user_id", userID, "flow", fd.Kind.String(), "reason", string(reason))
	s.emit(ctx, audit.Event{
		Type:   audit.EventAuthorizationStarted,
		UserID: userID.String(),
		Flow:   fd.Kind.String(),
		Reason: string(reason),
		Scopes: fd.Scopes,
	})
	return &models.AuthorizationResult{RedirectURL: redirect, Reason: reason}, nil
}

// refresh renews rec's access token and persists the result. Concurrent
// refreshes of one key share a single provider call.
func (s *Service) refresh(ctx context.Context, key models.CredentialKey, rec *models.TokenRecord) (*models.TokenRecord, error) {
	v, err, shared := s.refreshes.Do(key.String(), func() (any, error) {
		fresh, err := s.provider.Refresh(ctx, rec)
		if err != nil {
			if errors.Is(err, models.ErrTokenExpired) {
				s.metrics.IncTokenRefresh("rejected")
			} else {
				s.metrics.IncTokenRefresh("error")
			}
			return nil, err
		}

		merged := rec.Clone()
		merged.AccessToken = fresh.AccessToken
		merged.Expiry = fresh.Expiry
		if fresh.TokenType != "" {
			merged.TokenType = fresh.TokenType
		}
		if fresh.RefreshToken != "" {
			merged.RefreshToken = fresh.RefreshToken
		}
		if fresh.IDToken != "" {
			merged.IDToken = fresh.IDToken
		}
		merged.UpdatedAt = s.now()
		if err := s.credentials.Store(ctx, key.Set, key.UserID, merged); err != nil {
			s.metrics.IncTokenRefresh("error")
			return nil, dErrors.Wrap(fmt.Errorf("persist refreshed token: %w", err), dErrors.CodeInternal, "failed to store credential")
		}

		s.metrics.IncTokenRefresh("success")
		s.emit(ctx, audit.Event{
			Type:   audit.EventTokenRefreshed,
			UserID: key.UserID.String(),
			Scopes: merged.GrantedScopes,
		})
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.DebugContext(ctx, "joined in-flight refresh", "user_id", key.UserID)
	}
	return v.(*models.TokenRecord).Clone(), nil
}

// withConsentPrompt adds "consent" to a space-delimited prompt value.
func withConsentPrompt(prompt string) string {
	for _, p := range strings.Fields(prompt) {
		if p == promptConsent {
			return prompt
		}
	}
	return strings.TrimSpace(prompt + " " + promptConsent)
}
