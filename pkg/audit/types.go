package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

const (
	// === Attempt lifecycle ===
	EventLoginStarted     EventType = "login.started"
	EventDeviceCodeIssued EventType = "login.device_code_issued"
	EventLoginSucceeded   EventType = "login.succeeded"
	EventLoginDenied      EventType = "login.denied"
	EventLoginFailed      EventType = "login.failed"

	// === Local account changes ===
	EventAccountCreated EventType = "account.created"
	EventAdminGranted   EventType = "account.admin_granted"
	EventKeysImported   EventType = "keys.imported"
)

// Severity indicates the importance of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SeverityForEventType returns the default severity for an event type.
func SeverityForEventType(t EventType) Severity {
	switch t {
	case EventLoginDenied, EventLoginFailed:
		return SeverityWarning
	case EventAdminGranted:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Actor describes who is logging in and from where.
type Actor struct {
	// User is the local account name claimed at login.
	User string `json:"user"`
	// RemoteLogin is the verified GitHub login, empty until verified.
	RemoteLogin string `json:"remoteLogin,omitempty"`
	Service     string `json:"service,omitempty"`
	RemoteHost  string `json:"remoteHost,omitempty"`
}

// Event is a single audit record.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	// AttemptID correlates all events of one login attempt.
	AttemptID    string                 `json:"attemptId"`
	Actor        Actor                  `json:"actor"`
	Organization string                 `json:"organization,omitempty"`
	Team         string                 `json:"team,omitempty"`
	Outcome      string                 `json:"outcome,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// NewEvent creates an event with a fresh ID, the current UTC time and the
// default severity for t.
func NewEvent(t EventType, attemptID string, actor Actor) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  SeverityForEventType(t),
		Timestamp: time.Now().UTC(),
		AttemptID: attemptID,
		Actor:     actor,
	}
}
