package models

import (
	"time"
)

// UserID correlates a browser session with its credential records.
type UserID string

func (u UserID) String() string { return string(u) }

func (u UserID) IsZero() bool { return u == "" }

// CredentialKey addresses one TokenRecord.
type CredentialKey struct {
	Set    string
	UserID UserID
}

func (k CredentialKey) String() string {
	return k.Set + "/" + string(k.UserID)
}

// FlowKind tags the authorization flows driven by the orchestrator.
type FlowKind string

const (
	FlowSignIn        FlowKind = "sign_in"
	FlowClassroomList FlowKind = "classroom_list"
)

func (k FlowKind) IsValid() bool {
	return k == FlowSignIn || k == FlowClassroomList
}

func (k FlowKind) String() string { return string(k) }

// FlowDescriptor is everything the orchestrator needs to run one flow.
type FlowDescriptor struct {
	Kind          FlowKind
	Name          string
	Scopes        ScopeSet
	CallbackPath  string
	CredentialSet string
	LoginHint     string
	Prompt        string
}

// ConsentReason explains why a user is sent to the consent screen.
type ConsentReason string

const (
	ReasonNoCredential      ConsentReason = "no_credential"
	ReasonInsufficientScope ConsentReason = "insufficient_scope"
	ReasonExpired           ConsentReason = "expired"
)

// Err maps the reason to its sentinel.
func (r ConsentReason) Err() error {
	switch r {
	case ReasonNoCredential:
		return ErrNoCredential
	case ReasonInsufficientScope:
		return ErrInsufficientScope
	case ReasonExpired:
		return ErrTokenExpired
	default:
		return nil
	}
}

// Credential is a usable access token handed to API callers.
type Credential struct {
	UserID      UserID
	Flow        FlowKind
	AccessToken string
	TokenType   string
	Expiry      time.Time
	Scopes      ScopeSet
}

// AuthorizationResult holds either a Credential or a RedirectURL, never both.
type AuthorizationResult struct {
	Credential  *Credential
	RedirectURL string
	Reason      ConsentReason
}

func (r *AuthorizationResult) NeedsRedirect() bool {
	return r.RedirectURL != ""
}

// AuthRequest parameterizes the provider consent URL.
type AuthRequest struct {
	Scopes               ScopeSet
	State                string
	RedirectURI          string
	LoginHint            string
	Prompt               string
	Offline              bool
	IncludeGrantedScopes bool
}

// CallbackParams are the query parameters the provider returns to a callback.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult is a completed authorization.
type CallbackResult struct {
	Credential *Credential
	ReturnTo   string
}

// IdentityClaims are projected from a validated ID token and never persisted.
type IdentityClaims struct {
	Subject string `json:"sub"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// NewCredential projects a record into a Credential.
func NewCredential(userID UserID, kind FlowKind, rec *TokenRecord) *Credential {
	return &Credential{
		UserID:      userID,
		Flow:        kind,
		AccessToken: rec.AccessToken,
		TokenType:   rec.TokenType,
		Expiry:      rec.Expiry,
		Scopes:      append(ScopeSet(nil), rec.GrantedScopes...),
	}
}
