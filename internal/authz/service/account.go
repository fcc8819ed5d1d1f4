package service

import (
	"context"
	"errors"

	"classauth/internal/audit"
	"classauth/internal/authz/flow"
	"classauth/internal/authz/models"
	dErrors "classauth/pkg/domain-errors"
)

// CurrentIdentity validates the stored ID token and returns its claims. An
// absent or invalid token yields nil claims rather than an error.
func (s *Service) CurrentIdentity(ctx context.Context, userID models.UserID) (*models.IdentityClaims, error) {
	if userID.IsZero() || s.identity == nil {
		return nil, nil
	}
	rec, err := s.credentials.Load(ctx, flow.CredentialSet, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	if rec == nil || rec.IDToken == "" {
		return nil, nil
	}
	claims, err := s.identity.Extract(ctx, rec.IDToken)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.DebugContext(ctx, "stored id token rejected", "user_id", userID, "error", err)
		return nil, nil
	}
	return claims, nil
}

// GrantedScopes returns the scopes accrued in the user's grant, or nil.
func (s *Service) GrantedScopes(ctx context.Context, userID models.UserID) (models.ScopeSet, error) {
	if userID.IsZero() {
		return nil, nil
	}
	rec, err := s.credentials.Load(ctx, flow.CredentialSet, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	if rec == nil {
		return nil, nil
	}
	return rec.GrantedScopes, nil
}

// SignOut revokes the user's grant and removes it.
func (s *Service) SignOut(ctx context.Context, userID models.UserID) error {
	if userID.IsZero() {
		return nil
	}
	if err := s.credentials.Revoke(ctx, flow.CredentialSet, userID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove credential")
	}
	s.logger.InfoContext(ctx, "signed out", "user_id", userID)
	s.emit(ctx, audit.Event{Type: audit.EventSignedOut, UserID: userID.String()})
	return nil
}
