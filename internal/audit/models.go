package audit

import "time"

// EventType names an authorization lifecycle step.
type EventType string

const (
	EventAuthorizationStarted   EventType = "authorization_started"
	EventAuthorizationCompleted EventType = "authorization_completed"
	EventAuthorizationFailed    EventType = "authorization_failed"
	EventTokenRefreshed         EventType = "token_refreshed"
	EventSignedOut              EventType = "signed_out"
)

// Event is emitted from the authorization service. It stays
// transport-agnostic so sinks can fan out.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Flow      string    `json:"flow,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Browser   string    `json:"browser,omitempty"`
}
