package handler

import (
	"classauth/internal/authz/models"
	"classauth/internal/classroom"
)

type homeResponse struct {
	SignedIn bool     `json:"signed_in"`
	Subject  string   `json:"sub,omitempty"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Picture  string   `json:"picture,omitempty"`
	Scopes   []string `json:"scopes"`
}

func newHomeResponse(claims *models.IdentityClaims, scopes models.ScopeSet) homeResponse {
	resp := homeResponse{Scopes: []string{}}
	if len(scopes) > 0 {
		resp.Scopes = scopes
	}
	if claims != nil {
		resp.SignedIn = true
		resp.Subject = claims.Subject
		resp.Name = claims.Name
		resp.Email = claims.Email
		resp.Picture = claims.Picture
	}
	return resp
}

type coursesResponse struct {
	Courses []classroom.Course `json:"courses"`
}

func nonNil(courses []classroom.Course) []classroom.Course {
	if courses == nil {
		return []classroom.Course{}
	}
	return courses
}
