// Package flow defines the authorization flows and the scopes each requires.
package flow

import (
	"strings"

	"classauth/internal/authz/models"
)

const (
	ScopeEmail                    = "email"
	ScopeProfile                  = "profile"
	ScopeClassroomCoursesReadonly = "https://www.googleapis.com/auth/classroom.courses.readonly"

	SignInCallbackPath    = "/SignInAuthCallback"
	ClassListCallbackPath = "/ClassListAuthCallback"

	// CredentialSet is shared by every flow so granted scopes accrue in a
	// single record per user.
	CredentialSet = "classroom"

	PromptSelectAccount = "select_account"
)

// Operation is a user-facing action that needs authorization.
type Operation int

const (
	OpSignIn Operation = iota
	OpListCourses
)

// Option adjusts a selected descriptor.
type Option func(*models.FlowDescriptor)

// WithLoginHint pre-selects the account on the consent screen. Blank hints are
// ignored.
func WithLoginHint(email string) Option {
	return func(d *models.FlowDescriptor) {
		if hint := strings.TrimSpace(email); hint != "" {
			d.LoginHint = hint
		}
	}
}

// Select returns the flow for op.
func Select(op Operation, opts ...Option) models.FlowDescriptor {
	var d models.FlowDescriptor
	switch op {
	case OpListCourses:
		d = classroomList()
	default:
		d = signIn()
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// ByKind resolves the flow a callback belongs to.
func ByKind(kind models.FlowKind) (models.FlowDescriptor, bool) {
	switch kind {
	case models.FlowSignIn:
		return signIn(), true
	case models.FlowClassroomList:
		return classroomList(), true
	default:
		return models.FlowDescriptor{}, false
	}
}

func signIn() models.FlowDescriptor {
	return models.FlowDescriptor{
		Kind:          models.FlowSignIn,
		Name:          "SignIn",
		Scopes:        models.NewScopeSet(ScopeEmail, ScopeProfile),
		CallbackPath:  SignInCallbackPath,
		CredentialSet: CredentialSet,
		Prompt:        PromptSelectAccount,
	}
}

func classroomList() models.FlowDescriptor {
	return models.FlowDescriptor{
		Kind:          models.FlowClassroomList,
		Name:          "ClassroomList",
		Scopes:        models.NewScopeSet(ScopeEmail, ScopeProfile, ScopeClassroomCoursesReadonly),
		CallbackPath:  ClassListCallbackPath,
		CredentialSet: CredentialSet,
	}
}
