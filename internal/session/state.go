package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"classauth/internal/authz/models"
)

type stateClaims struct {
	Flow     models.FlowKind `json:"flow"`
	ReturnTo string          `json:"return_to,omitempty"`
	jwt.RegisteredClaims
}

// StateSigner produces the OAuth state parameter. The token binds the flow
// kind and user identifier so a callback cannot complete another user's or
// another flow's authorization.
type StateSigner struct {
	signer signer
	ttl    time.Duration
}

func NewStateSigner(secret string, opts ...Option) *StateSigner {
	c := newConfig(DefaultStateTTL, opts)
	return &StateSigner{
		signer: signer{key: []byte(secret), audience: stateAudience, now: c.now},
		ttl:    c.ttl,
	}
}

// Sign issues a state token for one consent round trip.
func (s *StateSigner) Sign(kind models.FlowKind, userID models.UserID, returnTo string) (string, error) {
	return s.signer.sign(stateClaims{
		Flow:             kind,
		ReturnTo:         returnTo,
		RegisteredClaims: s.signer.registered(userID.String(), s.ttl, uuid.NewString()),
	})
}

// Verify checks a returned state and yields the return path it carried.
// Every failure wraps models.ErrStateMismatch.
func (s *StateSigner) Verify(state string, kind models.FlowKind, userID models.UserID) (string, error) {
	if state == "" {
		return "", fmt.Errorf("%w: missing state", models.ErrStateMismatch)
	}
	var claims stateClaims
	if err := s.signer.parse(state, &claims); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrStateMismatch, err)
	}
	if claims.Flow != kind {
		return "", fmt.Errorf("%w: issued for flow %s", models.ErrStateMismatch, claims.Flow)
	}
	if claims.Subject != userID.String() {
		return "", fmt.Errorf("%w: issued for another session", models.ErrStateMismatch)
	}
	return claims.ReturnTo, nil
}
