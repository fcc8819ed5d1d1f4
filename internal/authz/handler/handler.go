// Package handler exposes the authorization flows and the course listing
// over HTTP. Responses are JSON or redirects.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"classauth/internal/authz/flow"
	"classauth/internal/authz/models"
	"classauth/internal/classroom"
	"classauth/internal/platform/logger"
	dErrors "classauth/pkg/domain-errors"
	"classauth/pkg/platform/httputil"
	"classauth/pkg/requestcontext"
)

// Service is the authorization orchestrator.
type Service interface {
	Authorize(ctx context.Context, userID models.UserID, fd models.FlowDescriptor, returnTo string) (*models.AuthorizationResult, error)
	Callback(ctx context.Context, userID models.UserID, fd models.FlowDescriptor, params models.CallbackParams) (*models.CallbackResult, error)
	CurrentIdentity(ctx context.Context, userID models.UserID) (*models.IdentityClaims, error)
	GrantedScopes(ctx context.Context, userID models.UserID) (models.ScopeSet, error)
	SignOut(ctx context.Context, userID models.UserID) error
}

type CourseLister interface {
	ListAll(ctx context.Context, cred *models.Credential, filter classroom.Filter) ([]classroom.Course, error)
}

// SessionClearer forgets the browser's session identifier.
type SessionClearer interface {
	Clear(w http.ResponseWriter)
}

type Handler struct {
	service  Service
	courses  CourseLister
	sessions SessionClearer
	logger   *slog.Logger
}

func New(service Service, courses CourseLister, sessions SessionClearer, l *slog.Logger) *Handler {
	if l == nil {
		l = logger.Discard()
	}
	return &Handler{service: service, courses: courses, sessions: sessions, logger: l}
}

// Register mounts the routes. Session and request-context middleware must
// already be installed on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.handleHome)
	r.Get("/signin", h.handleSignIn)
	r.Get("/courses", h.handleCourses)
	r.Get(flow.SignInCallbackPath, h.handleCallback(models.FlowSignIn))
	r.Get(flow.ClassListCallbackPath, h.handleCallback(models.FlowClassroomList))
	r.Get("/signout", h.handleSignOut)
	r.Post("/signout", h.handleSignOut)
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := models.UserID(requestcontext.UserID(ctx))

	claims, err := h.service.CurrentIdentity(ctx, userID)
	if err != nil {
		h.fail(w, r, "home", err)
		return
	}
	scopes, err := h.service.GrantedScopes(ctx, userID)
	if err != nil {
		h.fail(w, r, "home", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newHomeResponse(claims, scopes))
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := models.UserID(requestcontext.UserID(ctx))

	res, err := h.service.Authorize(ctx, userID, flow.Select(flow.OpSignIn), "/")
	if err != nil {
		h.fail(w, r, "signin", err)
		return
	}
	if res.NeedsRedirect() {
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) handleCourses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := models.UserID(requestcontext.UserID(ctx))

	var opts []flow.Option
	if claims, err := h.service.CurrentIdentity(ctx, userID); err == nil && claims != nil {
		opts = append(opts, flow.WithLoginHint(claims.Email))
	}
	res, err := h.service.Authorize(ctx, userID, flow.Select(flow.OpListCourses, opts...), "/courses")
	if err != nil {
		h.fail(w, r, "courses", err)
		return
	}
	if res.NeedsRedirect() {
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
		return
	}

	courses, err := h.courses.ListAll(ctx, res.Credential, classroom.ActiveTaught)
	if err != nil {
		h.fail(w, r, "courses", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, coursesResponse{Courses: nonNil(courses)})
}

func (h *Handler) handleCallback(kind models.FlowKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := models.UserID(requestcontext.UserID(ctx))
		fd, _ := flow.ByKind(kind)

		q := r.URL.Query()
		res, err := h.service.Callback(ctx, userID, fd, models.CallbackParams{
			Code:             q.Get("code"),
			State:            q.Get("state"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		})
		if err != nil {
			h.fail(w, r, "callback", err)
			return
		}
		http.Redirect(w, r, sanitizeReturnTo(res.ReturnTo), http.StatusFound)
	}
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := models.UserID(requestcontext.UserID(ctx))

	if err := h.service.SignOut(ctx, userID); err != nil {
		// The session is cleared even when removal fails.
		h.logger.ErrorContext(ctx, "sign out failed", "user_id", userID, "error", err)
	}
	h.sessions.Clear(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	attrs := []any{
		"op", op,
		"request_id", requestcontext.RequestID(ctx),
		"user_id", requestcontext.UserID(ctx),
		"error", err,
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "request failed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "request failed", attrs...)
	}
	httputil.WriteError(w, err)
}
