package models

import "time"

// expiryDelta treats tokens about to expire as already expired, matching the
// leeway golang.org/x/oauth2 applies.
const expiryDelta = 10 * time.Second

// reauthorizationExpiry is the instant stamped on records forced back through
// consent. It is non-zero so it never reads as "no expiry".
var reauthorizationExpiry = time.Unix(1, 0).UTC()

// TokenRecord is the persisted OAuth grant for one user in one credential set.
type TokenRecord struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	TokenType     string    `json:"token_type,omitempty"`
	Expiry        time.Time `json:"expiry"`
	IDToken       string    `json:"id_token,omitempty"`
	GrantedScopes ScopeSet  `json:"granted_scopes"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsExpired reports whether the access token is missing or past its expiry.
// A zero Expiry means the provider issued a non-expiring token.
func (r *TokenRecord) IsExpired(now time.Time) bool {
	if r.AccessToken == "" {
		return true
	}
	if r.Expiry.IsZero() {
		return false
	}
	return !now.Add(expiryDelta).Before(r.Expiry)
}

// IsRenewable reports whether an expired record can be refreshed without the
// user.
func (r *TokenRecord) IsRenewable(now time.Time) bool {
	return r.IsExpired(now) && r.RefreshToken != ""
}

// Clone returns a deep copy.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.GrantedScopes != nil {
		c.GrantedScopes = append(ScopeSet(nil), r.GrantedScopes...)
	}
	return &c
}

// ForceReauthorization returns a copy of r that cannot be used or refreshed,
// so the next authorization goes through consent. Granted scopes are kept so
// the consent request and the subsequent union still see them.
func ForceReauthorization(r TokenRecord) TokenRecord {
	cleared := *r.Clone()
	cleared.RefreshToken = ""
	cleared.Expiry = reauthorizationExpiry
	return cleared
}
