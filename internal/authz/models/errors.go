package models

import "errors"

var (
	// Consent reasons. These route the user to consent and are not shown as
	// failures.
	ErrNoCredential      = errors.New("no stored credential")
	ErrInsufficientScope = errors.New("stored credential lacks required scopes")
	ErrTokenExpired      = errors.New("stored credential expired and cannot be refreshed")

	// Authorization failures.
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	ErrStateMismatch  = errors.New("authorization state mismatch")

	ErrInvalidToken = errors.New("invalid id token")
	ErrUpstreamAPI  = errors.New("upstream api call failed")
)
