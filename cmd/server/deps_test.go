package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classauth/internal/audit"
	"classauth/internal/authz/models"
	"classauth/internal/authz/store/memory"
	"classauth/internal/platform/config"
	"classauth/internal/platform/logger"
)

func TestOpenBackendSelectsConfiguredStore(t *testing.T) {
	ctx := context.Background()

	var d dependencies
	mem, err := d.openBackend(ctx, config.Config{Store: config.Store{Backend: config.BackendMemory}})
	require.NoError(t, err)
	assert.Equal(t, "memory", mem.Name())

	b, err := d.openBackend(ctx, config.Config{Store: config.Store{
		Backend:    config.BackendBolt,
		BoltPath:   filepath.Join(t.TempDir(), "credentials.db"),
		SealingKey: "sealing-key",
	}})
	require.NoError(t, err)
	assert.Equal(t, "bolt", b.Name())
	assert.Len(t, d.closers, 1)
	d.close(logger.Discard())
}

func TestOpenBackendRequiresSealingKey(t *testing.T) {
	var d dependencies
	_, err := d.openBackend(context.Background(), config.Config{Store: config.Store{Backend: config.BackendBolt}})
	assert.Error(t, err)
}

func TestOpenAuditDefaultsToLog(t *testing.T) {
	var d dependencies
	pub, err := d.openAudit(context.Background(), config.Config{Audit: config.Audit{Sink: config.AuditSinkLog}}, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &audit.LogPublisher{}, pub)
}

func TestHealthHandlerReportsFailingChecks(t *testing.T) {
	var d dependencies
	d.check("redis", func(context.Context) error { return nil })

	rr := httptest.NewRecorder()
	d.healthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	d.check("postgres", func(context.Context) error { return errors.New("connection refused") })
	rr = httptest.NewRecorder()
	d.healthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "connection refused")
}

type reportingBackend struct {
	*memory.Store
}

func (reportingBackend) UsersWithScope(context.Context, string, string) ([]models.UserID, error) {
	return []models.UserID{"u-1"}, nil
}

func TestMountAdmin(t *testing.T) {
	withToken := config.Config{Admin: config.Admin{Token: "ops-token"}}
	request := func(r http.Handler, token string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/grants?scope=email", nil)
		if token != "" {
			req.Header.Set("X-Admin-Token", token)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	r := chi.NewRouter()
	mountAdmin(r, config.Config{}, reportingBackend{memory.New()}, logger.Discard())
	assert.Equal(t, http.StatusNotFound, request(r, "ops-token"), "no token configured")

	r = chi.NewRouter()
	mountAdmin(r, withToken, memory.New(), logger.Discard())
	assert.Equal(t, http.StatusNotFound, request(r, "ops-token"), "backend cannot report")

	r = chi.NewRouter()
	mountAdmin(r, withToken, reportingBackend{memory.New()}, logger.Discard())
	assert.Equal(t, http.StatusUnauthorized, request(r, ""))
	assert.Equal(t, http.StatusOK, request(r, "ops-token"))
}
