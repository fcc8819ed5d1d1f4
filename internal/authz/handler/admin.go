package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"classauth/internal/authz/flow"
	"classauth/internal/authz/models"
	"classauth/internal/platform/logger"
	dErrors "classauth/pkg/domain-errors"
	"classauth/pkg/platform/httputil"
)

// ScopeReporter answers which users hold a scope in a credential set.
type ScopeReporter interface {
	UsersWithScope(ctx context.Context, set, scope string) ([]models.UserID, error)
}

// AdminHandler serves operator reporting over stored grants. Callers mount
// it behind admin authentication.
type AdminHandler struct {
	reporter ScopeReporter
	logger   *slog.Logger
}

func NewAdmin(reporter ScopeReporter, l *slog.Logger) *AdminHandler {
	if l == nil {
		l = logger.Discard()
	}
	return &AdminHandler{reporter: reporter, logger: l}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/grants", h.handleUsersWithScope)
}

type grantsResponse struct {
	CredentialSet string          `json:"credential_set"`
	Scope         string          `json:"scope"`
	Users         []models.UserID `json:"users"`
}

func (h *AdminHandler) handleUsersWithScope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := strings.TrimSpace(r.URL.Query().Get("scope"))
	if scope == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "scope is required"))
		return
	}
	set := strings.TrimSpace(r.URL.Query().Get("credential_set"))
	if set == "" {
		set = flow.CredentialSet
	}

	users, err := h.reporter.UsersWithScope(ctx, set, scope)
	if err != nil {
		h.logger.ErrorContext(ctx, "scope report failed", "scope", scope, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query grants"))
		return
	}
	if users == nil {
		users = []models.UserID{}
	}
	httputil.WriteJSON(w, http.StatusOK, grantsResponse{CredentialSet: set, Scope: scope, Users: users})
}
