package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/oauth2"

	"classauth/internal/authz/models"
)

type fakeGoogle struct {
	mu       sync.Mutex
	revoked  []string
	lastForm url.Values
}

func (f *fakeGoogle) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.lastForm = r.PostForm
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.PostForm.Get("grant_type") == "authorization_code" && r.PostForm.Get("code") == "good-code":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "ya29.exchanged",
				"token_type":    "Bearer",
				"expires_in":    3599,
				"refresh_token": "1//refresh",
				"id_token":      "eyJ.id.token",
				"scope":         "email profile",
			})
		case r.PostForm.Get("grant_type") == "refresh_token" && r.PostForm.Get("refresh_token") == "1//refresh":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "ya29.refreshed",
				"token_type":   "Bearer",
				"expires_in":   3599,
			})
		case r.PostForm.Get("refresh_token") == "1//outage":
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "backend_error"})
		case r.PostForm.Get("refresh_token") == "1//gateway":
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "Bad Request",
			})
		}
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		token := r.PostForm.Get("token")
		if token == "unknown" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
			return
		}
		f.mu.Lock()
		f.revoked = append(f.revoked, token)
		f.mu.Unlock()
	})
	return mux
}

type ProviderSuite struct {
	suite.Suite
	fake     *fakeGoogle
	server   *httptest.Server
	provider *Provider
}

func TestProviderSuite(t *testing.T) {
	suite.Run(t, new(ProviderSuite))
}

func (s *ProviderSuite) SetupTest() {
	s.fake = &fakeGoogle{}
	s.server = httptest.NewServer(s.fake.handler())
	s.T().Cleanup(s.server.Close)
	s.provider = New("client-id", "client-secret",
		WithEndpoint(oauth2.Endpoint{
			AuthURL:   s.server.URL + "/auth",
			TokenURL:  s.server.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}),
		WithRevokeURL(s.server.URL+"/revoke"),
		WithHTTPClient(s.server.Client()),
	)
}

func (s *ProviderSuite) TestAuthCodeURL() {
	raw := s.provider.AuthCodeURL(models.AuthRequest{
		Scopes:               models.ScopeSet{"email", "profile", "https://www.googleapis.com/auth/classroom.courses.readonly"},
		State:                "signed-state",
		RedirectURI:          "http://localhost:8080/ClassListAuthCallback",
		LoginHint:            "teacher@example.edu",
		Offline:              true,
		IncludeGrantedScopes: true,
	})

	u, err := url.Parse(raw)
	s.Require().NoError(err)
	q := u.Query()
	s.Equal("/auth", u.Path)
	s.Equal("client-id", q.Get("client_id"))
	s.Equal("code", q.Get("response_type"))
	s.Equal("signed-state", q.Get("state"))
	s.Equal("http://localhost:8080/ClassListAuthCallback", q.Get("redirect_uri"))
	s.Equal("email profile https://www.googleapis.com/auth/classroom.courses.readonly", q.Get("scope"))
	s.Equal("offline", q.Get("access_type"))
	s.Equal("true", q.Get("include_granted_scopes"))
	s.Equal("teacher@example.edu", q.Get("login_hint"))
	s.False(q.Has("prompt"))
}

func (s *ProviderSuite) TestAuthCodeURLWithPrompt() {
	raw := s.provider.AuthCodeURL(models.AuthRequest{Scopes: models.ScopeSet{"email"}, State: "st", Prompt: "select_account"})
	u, err := url.Parse(raw)
	s.Require().NoError(err)
	s.Equal("select_account", u.Query().Get("prompt"))
	s.False(u.Query().Has("login_hint"))
}

func (s *ProviderSuite) TestExchange() {
	rec, err := s.provider.Exchange(context.Background(), "good-code", "http://localhost:8080/SignInAuthCallback")
	s.Require().NoError(err)

	s.Equal("ya29.exchanged", rec.AccessToken)
	s.Equal("1//refresh", rec.RefreshToken)
	s.Equal("Bearer", rec.TokenType)
	s.Equal("eyJ.id.token", rec.IDToken)
	s.False(rec.Expiry.IsZero())
	s.Empty(rec.GrantedScopes)
	s.Equal("http://localhost:8080/SignInAuthCallback", s.fake.lastForm.Get("redirect_uri"))
}

func (s *ProviderSuite) TestExchangeRejected() {
	_, err := s.provider.Exchange(context.Background(), "stale-code", "http://localhost:8080/SignInAuthCallback")
	s.Require().Error(err)
	s.ErrorIs(err, models.ErrExchangeFailed)
	s.Contains(err.Error(), "invalid_grant")
}

func (s *ProviderSuite) TestRefreshKeepsRefreshToken() {
	rec, err := s.provider.Refresh(context.Background(), &models.TokenRecord{RefreshToken: "1//refresh"})
	s.Require().NoError(err)
	s.Equal("ya29.refreshed", rec.AccessToken)
	s.Equal("1//refresh", rec.RefreshToken)
}

func (s *ProviderSuite) TestRefreshRejected() {
	_, err := s.provider.Refresh(context.Background(), &models.TokenRecord{RefreshToken: "revoked"})
	s.ErrorIs(err, models.ErrTokenExpired)
}

func (s *ProviderSuite) TestRefreshDuringOutageKeepsGrantAlive() {
	for _, token := range []string{"1//outage", "1//gateway"} {
		_, err := s.provider.Refresh(context.Background(), &models.TokenRecord{RefreshToken: token})
		s.Require().Error(err, token)
		s.NotErrorIs(err, models.ErrTokenExpired, token)

		var re *oauth2.RetrieveError
		s.Require().ErrorAs(err, &re, token)
		s.GreaterOrEqual(re.Response.StatusCode, http.StatusInternalServerError)
	}
}

func (s *ProviderSuite) TestExchangeKeepsContextCause() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.provider.Exchange(ctx, "good-code", "http://localhost:8080/SignInAuthCallback")
	s.Require().Error(err)
	s.ErrorIs(err, models.ErrExchangeFailed)
	s.ErrorIs(err, context.Canceled)
}

func (s *ProviderSuite) TestRefreshWithoutRefreshToken() {
	_, err := s.provider.Refresh(context.Background(), &models.TokenRecord{AccessToken: "at"})
	s.ErrorIs(err, models.ErrTokenExpired)
}

func (s *ProviderSuite) TestRevoke() {
	s.Require().NoError(s.provider.Revoke(context.Background(), "1//refresh"))
	s.Equal([]string{"1//refresh"}, s.fake.revoked)

	err := s.provider.Revoke(context.Background(), "unknown")
	s.Require().Error(err)
	s.Contains(err.Error(), "400")
}

func TestDefaultsToGoogleEndpoints(t *testing.T) {
	p := New("id", "secret")
	raw := p.AuthCodeURL(models.AuthRequest{Scopes: models.ScopeSet{"email"}, State: "s"})
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, RevokeURL, p.revokeURL)
}
