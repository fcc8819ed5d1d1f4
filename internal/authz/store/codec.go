// Package store holds what the credential backends share: the record codec
// and the conformance suite every backend runs.
package store

import (
	"encoding/json"
	"fmt"

	"classauth/internal/authz/models"
	"classauth/pkg/platform/sentinel"
)

// Sealer encrypts payloads bound to associated data.
type Sealer interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

// Codec serializes records for byte-oriented backends. With a Sealer the
// payload is encrypted and bound to its key, so a record copied under another
// key fails to open.
type Codec struct {
	sealer Sealer
}

func NewCodec(sealer Sealer) Codec {
	return Codec{sealer: sealer}
}

func (c Codec) Encode(key models.CredentialKey, rec *models.TokenRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	if c.sealer == nil {
		return data, nil
	}
	sealed, err := c.sealer.Seal(data, []byte(key.String()))
	if err != nil {
		return nil, fmt.Errorf("seal credential: %w", err)
	}
	return sealed, nil
}

// Decode reverses Encode. Undecodable payloads wrap sentinel.ErrInvalidState.
func (c Codec) Decode(key models.CredentialKey, data []byte) (*models.TokenRecord, error) {
	if c.sealer != nil {
		opened, err := c.sealer.Open(data, []byte(key.String()))
		if err != nil {
			return nil, fmt.Errorf("open credential %s: %w: %v", key, sentinel.ErrInvalidState, err)
		}
		data = opened
	}
	var rec models.TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w: %v", key, sentinel.ErrInvalidState, err)
	}
	return &rec, nil
}
