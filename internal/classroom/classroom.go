// Package classroom lists a teacher's courses, following pagination to the
// end.
package classroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"classauth/internal/authz/models"
	"classauth/internal/platform/logger"
	"classauth/internal/platform/metrics"
	dErrors "classauth/pkg/domain-errors"
)

const defaultMaxPages = 100

// Course is the projection of a Classroom course returned to callers.
type Course struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Section       string `json:"section,omitempty"`
	State         string `json:"course_state,omitempty"`
	AlternateLink string `json:"alternate_link,omitempty"`
}

// Filter narrows the listing.
type Filter struct {
	CourseStates []string
	TeacherID    string
}

// ActiveTaught lists active courses the caller teaches.
var ActiveTaught = Filter{CourseStates: []string{"ACTIVE"}, TeacherID: "me"}

// Page is one response from the listing API.
type Page struct {
	Courses       []Course
	NextPageToken string
}

// PageFetcher fetches a single page. An empty pageToken requests the first.
type PageFetcher interface {
	FetchPage(ctx context.Context, filter Filter, pageToken string) (*Page, error)
}

// FetcherFactory binds a PageFetcher to a user's credential.
type FetcherFactory func(ctx context.Context, cred *models.Credential) (PageFetcher, error)

// Lister concatenates every page of a listing in order.
type Lister struct {
	newFetcher FetcherFactory
	maxPages   int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Lister)

func WithLogger(l *slog.Logger) Option {
	return func(ls *Lister) {
		if l != nil {
			ls.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ls *Lister) { ls.metrics = m }
}

// WithMaxPages bounds how many pages one listing may follow.
func WithMaxPages(n int) Option {
	return func(ls *Lister) {
		if n > 0 {
			ls.maxPages = n
		}
	}
}

func NewLister(factory FetcherFactory, opts ...Option) *Lister {
	l := &Lister{
		newFetcher: factory,
		maxPages:   defaultMaxPages,
		logger:     logger.Discard(),
		tracer:     otel.Tracer("classauth/classroom"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// ListAll returns every course matching filter, pages concatenated in the
// order the API returned them. The loop ends on an empty nextPageToken.
func (l *Lister) ListAll(ctx context.Context, cred *models.Credential, filter Filter) ([]Course, error) {
	ctx, span := l.tracer.Start(ctx, "classroom.ListAll")
	defer span.End()
	start := time.Now()

	fetcher, err := l.newFetcher(ctx, cred)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, upstream(err)
	}

	var (
		courses   []Course
		pageToken string
		pages     int
	)
	for {
		if pages == l.maxPages {
			err := fmt.Errorf("%w: listing exceeded %d pages", models.ErrUpstreamAPI, l.maxPages)
			span.SetStatus(codes.Error, err.Error())
			return nil, upstream(err)
		}
		page, err := fetcher.FetchPage(ctx, filter, pageToken)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			l.logger.ErrorContext(ctx, "classroom page fetch failed",
				"user_id", cred.UserID, "page", pages, "error", err)
			return nil, upstream(err)
		}
		pages++
		courses = append(courses, page.Courses...)
		if page.NextPageToken == "" {
			break
		}
		if page.NextPageToken == pageToken {
			err := fmt.Errorf("%w: page token %q repeated", models.ErrUpstreamAPI, pageToken)
			span.SetStatus(codes.Error, err.Error())
			return nil, upstream(err)
		}
		pageToken = page.NextPageToken
	}

	span.SetAttributes(attribute.Int("classroom.pages", pages), attribute.Int("classroom.courses", len(courses)))
	l.metrics.ObserveClassroomList(start, pages)
	l.logger.InfoContext(ctx, "courses listed", "user_id", cred.UserID, "pages", pages, "courses", len(courses))
	return courses, nil
}

func upstream(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "classroom request timed out")
	}
	if !errors.Is(err, models.ErrUpstreamAPI) {
		err = fmt.Errorf("%w: %w", models.ErrUpstreamAPI, err)
	}
	return dErrors.Wrap(err, dErrors.CodeUpstream, "classroom request failed")
}
