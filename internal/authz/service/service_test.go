package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"classauth/internal/audit"
	"classauth/internal/authz/credentials"
	"classauth/internal/authz/flow"
	"classauth/internal/authz/models"
	"classauth/internal/authz/service"
	"classauth/internal/authz/service/mocks"
	"classauth/internal/authz/store/memory"
	"classauth/internal/platform/metrics"
	"classauth/internal/session"
	dErrors "classauth/pkg/domain-errors"
)

const (
	baseURL = "https://classauth.example"
	user    = models.UserID("7f4c1a9e-0000-4000-8000-000000000001")
)

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	ctrl     *gomock.Controller
	provider *mocks.MockProvider
	verifier *mocks.MockIdentityVerifier
	store    *credentials.Store
	states   *session.StateSigner
	service  *service.Service

	mu       sync.Mutex
	requests []models.AuthRequest
	events   []audit.Event
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.ctrl = gomock.NewController(s.T())
	s.provider = mocks.NewMockProvider(s.ctrl)
	s.verifier = mocks.NewMockIdentityVerifier(s.ctrl)
	s.store = credentials.New(memory.New())
	s.states = session.NewStateSigner("state-secret", session.WithClock(func() time.Time { return s.now }))
	s.requests = nil
	s.events = nil

	auditor := mocks.NewMockAuditPublisher(s.ctrl)
	auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = append(s.events, e)
		return nil
	}).AnyTimes()
	s.provider.EXPECT().AuthCodeURL(gomock.Any()).DoAndReturn(func(req models.AuthRequest) string {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests = append(s.requests, req)
		return "https://accounts.example/o/oauth2/auth?state=" + url.QueryEscape(req.State)
	}).AnyTimes()

	s.service = service.New(s.store, s.provider, s.states, baseURL+"/",
		service.WithClock(func() time.Time { return s.now }),
		service.WithIdentityVerifier(s.verifier),
		service.WithAuditPublisher(auditor),
		service.WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
}

func (s *ServiceSuite) lastRequest() models.AuthRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().NotEmpty(s.requests)
	return s.requests[len(s.requests)-1]
}

func (s *ServiceSuite) eventTypes() []audit.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.EventType
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func (s *ServiceSuite) load() *models.TokenRecord {
	rec, err := s.store.Load(s.ctx, flow.CredentialSet, user)
	s.Require().NoError(err)
	return rec
}

func (s *ServiceSuite) put(rec *models.TokenRecord) {
	s.Require().NoError(s.store.Store(s.ctx, flow.CredentialSet, user, rec))
}

func (s *ServiceSuite) validRecord(scopes ...string) *models.TokenRecord {
	return &models.TokenRecord{
		AccessToken:   "at-valid",
		RefreshToken:  "rt-valid",
		TokenType:     "Bearer",
		Expiry:        s.now.Add(time.Hour),
		IDToken:       "id-valid",
		GrantedScopes: models.NewScopeSet(scopes...),
	}
}

// complete runs the callback for the most recent consent redirect.
func (s *ServiceSuite) complete(fd models.FlowDescriptor, issued *models.TokenRecord) *models.CallbackResult {
	req := s.lastRequest()
	s.provider.EXPECT().Exchange(gomock.Any(), "code-"+string(fd.Kind), baseURL+fd.CallbackPath).Return(issued, nil)
	res, err := s.service.Callback(s.ctx, user, fd, models.CallbackParams{Code: "code-" + string(fd.Kind), State: req.State})
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) TestNoRecordRedirectsWithoutWriting() {
	fd := flow.Select(flow.OpListCourses, flow.WithLoginHint("teacher@school.example"))

	res, err := s.service.Authorize(s.ctx, user, fd, "/courses")
	s.Require().NoError(err)

	s.True(res.NeedsRedirect())
	s.Nil(res.Credential)
	s.Equal(models.ReasonNoCredential, res.Reason)
	req := s.lastRequest()
	s.Equal(models.NewScopeSet(flow.ScopeEmail, flow.ScopeProfile, flow.ScopeClassroomCoursesReadonly), req.Scopes)
	s.Equal("teacher@school.example", req.LoginHint)
	s.Equal(baseURL+flow.ClassListCallbackPath, req.RedirectURI)
	s.True(req.Offline)
	s.True(req.IncludeGrantedScopes)
	s.Empty(req.Prompt)
	s.Nil(s.load(), "nothing is written until the callback")
	s.Equal([]audit.EventType{audit.EventAuthorizationStarted}, s.eventTypes())
}

func (s *ServiceSuite) TestSignInForcesAccountChooser() {
	_, err := s.service.Authorize(s.ctx, user, flow.Select(flow.OpSignIn), "/")
	s.Require().NoError(err)
	s.Equal(flow.PromptSelectAccount, s.lastRequest().Prompt)
}

func (s *ServiceSuite) TestSufficientRecordIsUsedDirectly() {
	s.put(s.validRecord(flow.ScopeEmail, flow.ScopeProfile, flow.ScopeClassroomCoursesReadonly))

	res, err := s.service.Authorize(s.ctx, user, flow.Select(flow.OpListCourses), "/courses")
	s.Require().NoError(err)

	s.False(res.NeedsRedirect())
	s.Require().NotNil(res.Credential)
	s.Equal("at-valid", res.Credential.AccessToken)
	s.Equal(models.FlowClassroomList, res.Credential.Flow)
	s.Empty(s.eventTypes())
}

func (s *ServiceSuite) TestInsufficientScopeForcesReauthorization() {
	s.put(s.validRecord(flow.ScopeEmail, flow.ScopeProfile))

	res, err := s.service.Authorize(s.ctx, user, flow.Select(flow.OpListCourses), "/courses")
	s.Require().NoError(err)
	s.Equal(models.ReasonInsufficientScope, res.Reason)

	stored := s.load()
	s.Require().NotNil(stored)
	s.Empty(stored.RefreshToken)
	s.True(stored.IsExpired(s.now))
	s.False(stored.Expiry.IsZero())
	s.Equal(models.NewScopeSet(flow.ScopeEmail, flow.ScopeProfile), stored.GrantedScopes)
}

func (s *ServiceSuite) TestExpiredWithoutRefreshTokenNeedsConsent() {
	rec := s.validRecord(flow.ScopeEmail, flow.ScopeProfile)
	rec.RefreshToken = ""
	rec.Expiry = s.now.Add(-time.Minute)
	s.put(rec)

	res, err := s.service.Authorize(s.ctx, user, flow.Select(flow.OpSignIn), "/")
	s.Require().NoError(err)
	s.Equal(models.ReasonExpired, res.Reason)
	s.Equal("select_account consent", s.lastRequest().Prompt, "account chooser kept and a new refresh token requested")
}

func (s *ServiceSuite) TestRejectedSignInRefreshKeepsAccountChooser() {
	rec := s.validRecord(flow.ScopeEmail, flow.ScopeProfile)
	rec.Expiry = s.now.Add(-time.Minute)
	s.put(rec)

	s.provider.EXPECT().Refresh(gomock.Any(), gomock.Any()).
		Return(nil, errors.Join(models.ErrTokenExpired, errors.New("invalid_grant")))

	res, err := s.service.Authorize(s.ctx, user, flow.Select(flow.OpSignIn), "/")
	s.Require().NoError(err)
	s.Equal(models.ReasonExpired, res.Reason)
	s.Equal("select_account consent", s.lastRequest().Prompt)
}

func (s *ServiceSuite) TestExpiredRecordIsRefreshed() {
	rec := s.validRecord(flow.ScopeEmail, flow.ScopeProfile, flow.ScopeClassroomCoursesReadonly)
	rec.Expiry = s.now.Add(-time.Minute)
	s.put(rec)

	s.provider.EXPECT().Refresh(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, r *models.TokenRecord) (*models.TokenRecord, error) {
			s.Equal("rt-valid", r.RefreshToken)
			return &models.TokenRecord{AccessToken: "at-fresh", TokenType: "Bearer", Expiry: s.now.Add(time.Hour)}, nil
		})

	res, err := s.service.Authorize(s.ctx, user, flow.Select(flow.OpListCourses), "/courses")
	s.Require().NoError(err)
	s.Require().NotNil(res.Credential)
	s.Equal("at-fresh", res.Credential.AccessToken)

	stored := s.load()
	s.Equal("at-fresh", stored.AccessToken)
	s.Equal("rt-valid", stored.RefreshToken, "refresh token kept when the provider omits one")
	s.Equal("id-valid", stored.IDToken)
	s.Equal(rec.GrantedScopes, stored.GrantedScopes)
	s.Equal([]audit.EventType{audit.EventTokenRefreshed}, s.eventTypes())
}

func (s *ServiceSuite) TestRejectedRefreshAsksForConsent() {
	rec := s.validRecord(flow.ScopeEmail, flow.ScopeProfile, flow.ScopeClassroomCoursesReadonly)
	rec.Expiry = s.now.Add(-time.Minute)
	s.put(rec)

	s.provider.EXPECT().Refresh(gomock.Any(), gomock.Any()).
		Return(nil, errors.Join(models.ErrTokenExpired, errors.New("invalid_grant")))

	res, err := s.service.Authorize(s.ctx, user, flow.Select(flow.OpListCourses), "/courses")
	s.Require().NoError(err)
	s.Equal(models.ReasonExpired, res.Reason)
	s.Equal("consent", s.lastRequest().Prompt, "a new refresh token must be issued")
	s.Empty(s.load().RefreshToken)
}

func (s *ServiceSuite) TestRefreshTransportFailureIsUpstream() {
	rec := s.validRecord(flow.ScopeEmail, flow.ScopeProfile)
	rec.Expiry = s.now.Add(-time.Minute)
	s.put(rec)

	s.provider.EXPECT().Refresh(gomock.Any(), gomock.Any()).Return(nil, errors.New("dial tcp: connection refused"))

	_, err := s.service.Authorize(s.ctx, user, flow.Select(flow.OpSignIn), "/")
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	s.Equal("rt-valid", s.load().RefreshToken, "record untouched")
}

func (s *ServiceSuite) TestConcurrentRefreshesShareOneProviderCall() {
	rec := s.validRecord(flow.ScopeEmail, flow.ScopeProfile)
	rec.Expiry = s.now.Add(-time.Minute)
	s.put(rec)

	started := make(chan struct{})
	release := make(chan struct{})
	s.provider.EXPECT().Refresh(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, *models.TokenRecord) (*models.TokenRecord, error) {
			close(started)
			<-release
			return &models.TokenRecord{AccessToken: "at-fresh", Expiry: s.now.Add(time.Hour)}, nil
		}).Times(1)

	const callers = 5
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	run := func(i int) {
		defer wg.Done()
		res, err := s.service.Authorize(s.ctx, user, flow.Select(flow.OpSignIn), "/")
		if s.NoError(err) && s.NotNil(res.Credential) {
			tokens[i] = res.Credential.AccessToken
		}
	}
	wg.Add(1)
	go run(0)
	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go run(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, tok := range tokens {
		s.Equal("at-fresh", tok)
	}
}

func (s *ServiceSuite) TestScopesAccrueAcrossFlows() {
	signIn := flow.Select(flow.OpSignIn)
	_, err := s.service.Authorize(s.ctx, user, signIn, "/")
	s.Require().NoError(err)
	s.complete(signIn, &models.TokenRecord{
		AccessToken: "at-1", RefreshToken: "rt-1", IDToken: "id-1", Expiry: s.now.Add(time.Hour),
	})
	s.Equal(models.NewScopeSet(flow.ScopeEmail, flow.ScopeProfile), s.load().GrantedScopes)

	list := flow.Select(flow.OpListCourses, flow.WithLoginHint("teacher@school.example"))
	res, err := s.service.Authorize(s.ctx, user, list, "/courses")
	s.Require().NoError(err)
	s.Equal(models.ReasonInsufficientScope, res.Reason)
	s.Equal("teacher@school.example", s.lastRequest().LoginHint)

	done := s.complete(list, &models.TokenRecord{
		AccessToken: "at-2", RefreshToken: "rt-2", Expiry: s.now.Add(time.Hour),
	})
	s.Equal("/courses", done.ReturnTo)

	stored := s.load()
	s.Equal(models.NewScopeSet(flow.ScopeEmail, flow.ScopeProfile, flow.ScopeClassroomCoursesReadonly), stored.GrantedScopes)
	s.Equal("rt-2", stored.RefreshToken)
	s.Equal("id-1", stored.IDToken, "previous id token kept")

	res, err = s.service.Authorize(s.ctx, user, signIn, "/")
	s.Require().NoError(err)
	s.False(res.NeedsRedirect(), "the wider grant still satisfies sign-in")
}

func (s *ServiceSuite) TestCallbackRejectsForeignState() {
	state, err := s.states.Sign(models.FlowSignIn, user, "/")
	s.Require().NoError(err)

	_, err = s.service.Callback(s.ctx, user, flow.Select(flow.OpListCourses), models.CallbackParams{Code: "c", State: state})
	s.ErrorIs(err, models.ErrStateMismatch)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.service.Callback(s.ctx, "someone-else", flow.Select(flow.OpSignIn), models.CallbackParams{Code: "c", State: state})
	s.ErrorIs(err, models.ErrStateMismatch)

	s.Nil(s.load())
	s.Equal([]audit.EventType{audit.EventAuthorizationFailed, audit.EventAuthorizationFailed}, s.eventTypes())
}

func (s *ServiceSuite) TestCallbackProviderErrorPersistsNothing() {
	fd := flow.Select(flow.OpSignIn)
	state, err := s.states.Sign(fd.Kind, user, "/")
	s.Require().NoError(err)

	_, err = s.service.Callback(s.ctx, user, fd, models.CallbackParams{State: state, Error: "access_denied"})
	s.ErrorIs(err, models.ErrExchangeFailed)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Nil(s.load())
}

func (s *ServiceSuite) TestCallbackExchangeFailurePersistsNothing() {
	fd := flow.Select(flow.OpSignIn)
	state, err := s.states.Sign(fd.Kind, user, "/")
	s.Require().NoError(err)
	s.provider.EXPECT().Exchange(gomock.Any(), "bad", gomock.Any()).
		Return(nil, errors.Join(models.ErrExchangeFailed, errors.New("invalid_grant")))

	_, err = s.service.Callback(s.ctx, user, fd, models.CallbackParams{Code: "bad", State: state})
	s.ErrorIs(err, models.ErrExchangeFailed)
	s.Nil(s.load())
}

func (s *ServiceSuite) TestCallbackAbandonedExchangeIsNotAFailure() {
	fd := flow.Select(flow.OpSignIn)
	state, err := s.states.Sign(fd.Kind, user, "/")
	s.Require().NoError(err)
	s.provider.EXPECT().Exchange(gomock.Any(), "code", gomock.Any()).
		Return(nil, fmt.Errorf("%w: %s: %w", models.ErrExchangeFailed, "request aborted", context.Canceled))

	_, err = s.service.Callback(s.ctx, user, fd, models.CallbackParams{Code: "code", State: state})
	s.ErrorIs(err, context.Canceled)
	s.False(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Empty(s.eventTypes(), "no authorization_failed event")
	s.Nil(s.load())
}

func (s *ServiceSuite) TestCallbackWithoutCode() {
	fd := flow.Select(flow.OpSignIn)
	state, err := s.states.Sign(fd.Kind, user, "/")
	s.Require().NoError(err)

	_, err = s.service.Callback(s.ctx, user, fd, models.CallbackParams{State: state})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestCurrentIdentity() {
	claims, err := s.service.CurrentIdentity(s.ctx, user)
	s.Require().NoError(err)
	s.Nil(claims, "no record")

	s.put(s.validRecord(flow.ScopeEmail, flow.ScopeProfile))
	want := &models.IdentityClaims{Subject: "1234", Name: "Ada", Email: "ada@school.example"}
	s.verifier.EXPECT().Extract(gomock.Any(), "id-valid").Return(want, nil)

	claims, err = s.service.CurrentIdentity(s.ctx, user)
	s.Require().NoError(err)
	s.Equal(want, claims)
}

func (s *ServiceSuite) TestCurrentIdentityDegradesOnInvalidToken() {
	s.put(s.validRecord(flow.ScopeEmail, flow.ScopeProfile))
	s.verifier.EXPECT().Extract(gomock.Any(), gomock.Any()).Return(nil, models.ErrInvalidToken)

	claims, err := s.service.CurrentIdentity(s.ctx, user)
	s.NoError(err)
	s.Nil(claims)
}

func (s *ServiceSuite) TestGrantedScopes() {
	scopes, err := s.service.GrantedScopes(s.ctx, user)
	s.Require().NoError(err)
	s.Empty(scopes)

	s.put(s.validRecord(flow.ScopeEmail, flow.ScopeProfile))
	scopes, err = s.service.GrantedScopes(s.ctx, user)
	s.Require().NoError(err)
	s.Equal(models.NewScopeSet(flow.ScopeEmail, flow.ScopeProfile), scopes)
}

func (s *ServiceSuite) TestSignOutRemovesRecord() {
	s.put(s.validRecord(flow.ScopeEmail, flow.ScopeProfile))

	s.Require().NoError(s.service.SignOut(s.ctx, user))
	s.Nil(s.load())
	s.Equal([]audit.EventType{audit.EventSignedOut}, s.eventTypes())
}

func (s *ServiceSuite) TestMissingSessionIsUnauthorized() {
	_, err := s.service.Authorize(s.ctx, "", flow.Select(flow.OpSignIn), "/")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestStoreFailuresAreInternal(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockCredentialStore(ctrl)
	provider := mocks.NewMockProvider(ctrl)
	states := session.NewStateSigner("state-secret")
	svc := service.New(store, provider, states, baseURL)
	boom := errors.New("connection reset")

	store.EXPECT().Load(gomock.Any(), flow.CredentialSet, user).Return(nil, boom).Times(3)
	store.EXPECT().Revoke(gomock.Any(), flow.CredentialSet, user).Return(boom)

	_, err := svc.Authorize(context.Background(), user, flow.Select(flow.OpSignIn), "/")
	if !dErrors.HasCode(err, dErrors.CodeInternal) {
		t.Fatalf("Authorize: expected internal error, got %v", err)
	}
	if _, err := svc.GrantedScopes(context.Background(), user); !errors.Is(err, boom) {
		t.Fatalf("GrantedScopes: expected wrapped store error, got %v", err)
	}
	if err := svc.SignOut(context.Background(), user); !dErrors.HasCode(err, dErrors.CodeInternal) {
		t.Fatalf("SignOut: expected internal error, got %v", err)
	}

	state, err := states.Sign(models.FlowSignIn, user, "/")
	if err != nil {
		t.Fatal(err)
	}
	provider.EXPECT().Exchange(gomock.Any(), "code", gomock.Any()).Return(&models.TokenRecord{AccessToken: "at"}, nil)
	if _, err := svc.Callback(context.Background(), user, flow.Select(flow.OpSignIn), models.CallbackParams{Code: "code", State: state}); !dErrors.HasCode(err, dErrors.CodeInternal) {
		t.Fatalf("Callback: expected internal error, got %v", err)
	}
}
