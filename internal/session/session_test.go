package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"classauth/pkg/requestcontext"
	"classauth/pkg/testutil"
)

type ManagerSuite struct {
	suite.Suite
	now     time.Time
	manager *Manager
	seen    string
	handler http.Handler
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.manager = NewManager("test-secret", WithTTL(time.Hour), WithClock(func() time.Time { return s.now }))
	s.seen = ""
	s.handler = s.manager.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.seen = requestcontext.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
}

func (s *ManagerSuite) request(cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return testutil.DoRequest(s.handler, req)
}

func (s *ManagerSuite) TestIssuesIdentifierOnFirstVisit() {
	rr := s.request(nil)

	s.Equal(http.StatusNoContent, rr.Code)
	_, err := uuid.Parse(s.seen)
	s.Require().NoError(err)
	cookie := testutil.ResponseCookie(rr, CookieName)
	s.Require().NotNil(cookie)
	s.True(cookie.HttpOnly)
	s.Equal(http.SameSiteLaxMode, cookie.SameSite)
}

func (s *ManagerSuite) TestReusesIdentifierFromValidCookie() {
	first := s.request(nil)
	userID := s.seen
	cookie := testutil.ResponseCookie(first, CookieName)

	s.now = s.now.Add(10 * time.Minute)
	second := s.request(cookie)

	s.Equal(userID, s.seen)
	s.Nil(testutil.ResponseCookie(second, CookieName), "fresh cookie should not be reissued")
}

func (s *ManagerSuite) TestReissuesAgingCookie() {
	first := s.request(nil)
	userID := s.seen
	cookie := testutil.ResponseCookie(first, CookieName)

	s.now = s.now.Add(40 * time.Minute)
	second := s.request(cookie)

	s.Equal(userID, s.seen)
	s.NotNil(testutil.ResponseCookie(second, CookieName))
}

func (s *ManagerSuite) TestReplacesExpiredCookie() {
	first := s.request(nil)
	userID := s.seen
	cookie := testutil.ResponseCookie(first, CookieName)

	s.now = s.now.Add(2 * time.Hour)
	s.request(cookie)

	s.NotEqual(userID, s.seen)
}

func (s *ManagerSuite) TestRejectsForeignSignature() {
	other := NewManager("another-secret", WithClock(func() time.Time { return s.now }))
	forged := uuid.NewString()
	value, err := other.Issue(forged)
	s.Require().NoError(err)

	rr := s.request(&http.Cookie{Name: CookieName, Value: value})

	s.NotEqual(forged, s.seen)
	s.NotNil(testutil.ResponseCookie(rr, CookieName))
}

func (s *ManagerSuite) TestRejectsStateTokenAsSession() {
	states := NewStateSigner("test-secret", WithClock(func() time.Time { return s.now }))
	value, err := states.Sign("sign_in", "11111111-1111-1111-1111-111111111111", "/")
	s.Require().NoError(err)

	s.request(&http.Cookie{Name: CookieName, Value: value})

	s.NotEqual("11111111-1111-1111-1111-111111111111", s.seen)
}

func TestClearExpiresCookie(t *testing.T) {
	m := NewManager("secret", WithSecureCookie(true))
	rr := httptest.NewRecorder()

	m.Clear(rr)

	cookie := testutil.ResponseCookie(rr, CookieName)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
	assert.True(t, cookie.Secure)
}
