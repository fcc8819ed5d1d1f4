package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AuthorizationOutcomes *prometheus.CounterVec
	ConsentRedirects      *prometheus.CounterVec
	TokenRefreshes        *prometheus.CounterVec
	CredentialStoreOps    *prometheus.HistogramVec
	ClassroomPages        prometheus.Counter
	ClassroomListDuration prometheus.Histogram
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AuthorizationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classauth_authorization_outcomes_total",
			Help: "Authorization attempts by flow and outcome",
		}, []string{"flow", "outcome"}),
		ConsentRedirects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classauth_consent_redirects_total",
			Help: "Redirects to the consent screen by flow and reason",
		}, []string{"flow", "reason"}),
		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classauth_token_refreshes_total",
			Help: "Access token refresh attempts by result",
		}, []string{"result"}),
		CredentialStoreOps: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "classauth_credential_store_duration_seconds",
			Help:    "Credential backend operation latency",
			Buckets: latencyBuckets,
		}, []string{"backend", "op"}),
		ClassroomPages: factory.NewCounter(prometheus.CounterOpts{
			Name: "classauth_classroom_pages_total",
			Help: "Classroom course list pages fetched",
		}),
		ClassroomListDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "classauth_classroom_list_duration_seconds",
			Help:    "Duration of a complete course listing across pages",
			Buckets: latencyBuckets,
		}),
	}
}

func (m *Metrics) IncAuthorization(flow, outcome string) {
	if m == nil {
		return
	}
	m.AuthorizationOutcomes.WithLabelValues(flow, outcome).Inc()
}

func (m *Metrics) IncConsentRedirect(flow, reason string) {
	if m == nil {
		return
	}
	m.ConsentRedirects.WithLabelValues(flow, reason).Inc()
}

func (m *Metrics) IncTokenRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// ObserveStore records a backend operation. Call with time.Now() at the
// start of the operation.
func (m *Metrics) ObserveStore(backend, op string, start time.Time) {
	if m == nil {
		return
	}
	m.CredentialStoreOps.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// ObserveClassroomList records a full listing and the pages it took.
func (m *Metrics) ObserveClassroomList(start time.Time, pages int) {
	if m == nil {
		return
	}
	m.ClassroomPages.Add(float64(pages))
	m.ClassroomListDuration.Observe(time.Since(start).Seconds())
}
