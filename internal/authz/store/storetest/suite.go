// Package storetest is the conformance suite every credential backend runs.
package storetest

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"classauth/internal/authz/credentials"
	"classauth/internal/authz/models"
	"classauth/pkg/platform/sentinel"
)

// BackendSuite exercises the keyed KV contract. Embedders set NewBackend.
type BackendSuite struct {
	suite.Suite
	NewBackend func() credentials.Backend
	backend    credentials.Backend
	ctx        context.Context
}

func (s *BackendSuite) SetupTest() {
	s.Require().NotNil(s.NewBackend, "NewBackend must be set")
	s.backend = s.NewBackend()
	s.ctx = context.Background()
}

func Record(access string, scopes ...string) *models.TokenRecord {
	return &models.TokenRecord{
		AccessToken:   access,
		RefreshToken:  "refresh-" + access,
		TokenType:     "Bearer",
		Expiry:        time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		IDToken:       "id-" + access,
		GrantedScopes: models.NewScopeSet(scopes...),
		UpdatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *BackendSuite) TestGetMissing() {
	_, err := s.backend.Get(s.ctx, models.CredentialKey{Set: "classroom", UserID: "nobody"})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *BackendSuite) TestPutThenGet() {
	key := models.CredentialKey{Set: "classroom", UserID: "u1"}
	rec := Record("at-1", "email", "profile")

	s.Require().NoError(s.backend.Put(s.ctx, key, rec))

	got, err := s.backend.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(rec, got)
}

func (s *BackendSuite) TestRepeatedGetsAreEqual() {
	key := models.CredentialKey{Set: "classroom", UserID: "u1"}
	s.Require().NoError(s.backend.Put(s.ctx, key, Record("at-1", "email")))

	first, err := s.backend.Get(s.ctx, key)
	s.Require().NoError(err)
	second, err := s.backend.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(first, second)
}

func (s *BackendSuite) TestPutOverwritesWholeRecord() {
	key := models.CredentialKey{Set: "classroom", UserID: "u1"}
	s.Require().NoError(s.backend.Put(s.ctx, key, Record("at-1", "email", "profile")))

	replacement := Record("at-2", "email")
	replacement.RefreshToken = ""
	replacement.IDToken = ""
	s.Require().NoError(s.backend.Put(s.ctx, key, replacement))

	got, err := s.backend.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(replacement, got)
}

func (s *BackendSuite) TestReturnedRecordIsDetached() {
	key := models.CredentialKey{Set: "classroom", UserID: "u1"}
	s.Require().NoError(s.backend.Put(s.ctx, key, Record("at-1", "email", "profile")))

	got, err := s.backend.Get(s.ctx, key)
	s.Require().NoError(err)
	got.AccessToken = "mutated"
	got.GrantedScopes[0] = "mutated"

	again, err := s.backend.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Equal("at-1", again.AccessToken)
	s.Equal(models.ScopeSet{"email", "profile"}, again.GrantedScopes)
}

func (s *BackendSuite) TestKeysAreIsolated() {
	a := models.CredentialKey{Set: "classroom", UserID: "u1"}
	b := models.CredentialKey{Set: "classroom", UserID: "u2"}
	c := models.CredentialKey{Set: "other", UserID: "u1"}
	s.Require().NoError(s.backend.Put(s.ctx, a, Record("at-a")))
	s.Require().NoError(s.backend.Put(s.ctx, b, Record("at-b")))

	got, err := s.backend.Get(s.ctx, a)
	s.Require().NoError(err)
	s.Equal("at-a", got.AccessToken)

	_, err = s.backend.Get(s.ctx, c)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *BackendSuite) TestDelete() {
	key := models.CredentialKey{Set: "classroom", UserID: "u1"}
	s.Require().NoError(s.backend.Put(s.ctx, key, Record("at-1")))

	s.Require().NoError(s.backend.Delete(s.ctx, key))
	_, err := s.backend.Get(s.ctx, key)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.NoError(s.backend.Delete(s.ctx, key), "delete is idempotent")
}

func (s *BackendSuite) TestName() {
	s.NotEmpty(s.backend.Name())
}
