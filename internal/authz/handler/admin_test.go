package handler_test

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"classauth/internal/authz/flow"
	"classauth/internal/authz/handler"
	"classauth/internal/authz/handler/mocks"
	"classauth/internal/authz/models"
	"classauth/pkg/testutil"
)

func newAdminRouter(t *testing.T) (chi.Router, *mocks.MockScopeReporter) {
	reporter := mocks.NewMockScopeReporter(gomock.NewController(t))
	r := chi.NewRouter()
	r.Route("/admin", handler.NewAdmin(reporter, nil).Register)
	return r, reporter
}

func TestAdminUsersWithScope(t *testing.T) {
	r, reporter := newAdminRouter(t)
	reporter.EXPECT().
		UsersWithScope(gomock.Any(), flow.CredentialSet, flow.ScopeClassroomCoursesReadonly).
		Return([]models.UserID{"u-1", "u-2"}, nil)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet,
		"/admin/grants?"+url.Values{"scope": {flow.ScopeClassroomCoursesReadonly}}.Encode()))

	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[map[string]any](t, rr)
	assert.Equal(t, flow.CredentialSet, (*resp)["credential_set"])
	assert.Equal(t, []any{"u-1", "u-2"}, (*resp)["users"])
}

func TestAdminUsersWithScopeEmpty(t *testing.T) {
	r, reporter := newAdminRouter(t)
	reporter.EXPECT().UsersWithScope(gomock.Any(), "other-set", "email").Return(nil, nil)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/admin/grants?scope=email&credential_set=other-set"))

	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[map[string]any](t, rr)
	assert.Equal(t, []any{}, (*resp)["users"])
}

func TestAdminUsersWithScopeErrors(t *testing.T) {
	r, reporter := newAdminRouter(t)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/admin/grants"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")

	reporter.EXPECT().UsersWithScope(gomock.Any(), gomock.Any(), "email").Return(nil, errors.New("connection reset"))
	rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/admin/grants?scope=email"))
	testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "internal_error")
}
