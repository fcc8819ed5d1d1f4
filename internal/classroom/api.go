package classroom

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	classroomapi "google.golang.org/api/classroom/v1"
	"google.golang.org/api/option"

	"classauth/internal/authz/models"
)

// apiFetcher pages through courses.list of the Classroom REST API.
type apiFetcher struct {
	svc *classroomapi.Service
}

// NewAPIFetcherFactory builds fetchers authenticated with the caller's access
// token. Extra client options (endpoint, HTTP client) are appended.
func NewAPIFetcherFactory(opts ...option.ClientOption) FetcherFactory {
	return func(ctx context.Context, cred *models.Credential) (PageFetcher, error) {
		ts := oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cred.AccessToken,
			TokenType:   cred.TokenType,
			Expiry:      cred.Expiry,
		})
		clientOpts := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
		svc, err := classroomapi.NewService(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("create classroom client: %w", err)
		}
		return &apiFetcher{svc: svc}, nil
	}
}

func (f *apiFetcher) FetchPage(ctx context.Context, filter Filter, pageToken string) (*Page, error) {
	call := f.svc.Courses.List().Context(ctx)
	if len(filter.CourseStates) > 0 {
		call = call.CourseStates(filter.CourseStates...)
	}
	if filter.TeacherID != "" {
		call = call.TeacherId(filter.TeacherID)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("courses.list: %w", err)
	}
	page := &Page{NextPageToken: resp.NextPageToken, Courses: make([]Course, 0, len(resp.Courses))}
	for _, c := range resp.Courses {
		page.Courses = append(page.Courses, Course{
			ID:            c.Id,
			Name:          c.Name,
			Section:       c.Section,
			State:         c.CourseState,
			AlternateLink: c.AlternateLink,
		})
	}
	return page, nil
}
