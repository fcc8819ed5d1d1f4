package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Credential backends and adapters
// return these (optionally wrapped) so services can translate them into
// domain errors or absent values.
//
//   - ErrNotFound: no record under the requested key
//   - ErrExpired: a signed token or credential is past its expiry
//   - ErrInvalidState: a stored record could not be decoded or opened
//   - ErrUnavailable: a backing service is temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
