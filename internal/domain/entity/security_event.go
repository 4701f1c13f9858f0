package entity

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEventType names an account lifecycle event worth auditing.
type SecurityEventType string

const (
	SecurityEventSignup          SecurityEventType = "account.signup"
	SecurityEventLoginSucceeded  SecurityEventType = "session.login_succeeded"
	SecurityEventLoginFailed     SecurityEventType = "session.login_failed"
	SecurityEventLogout          SecurityEventType = "session.logout"
	SecurityEventPasswordChanged SecurityEventType = "account.password_changed"
	SecurityEventAccountDeleted  SecurityEventType = "account.deleted"
)

// SecurityEvent is emitted after an account or session changes state.
// UserID is uuid.Nil when the subject could not be identified (failed login).
type SecurityEvent struct {
	ID         uuid.UUID         `json:"id"`
	Type       SecurityEventType `json:"type"`
	UserID     uuid.UUID         `json:"user_id"`
	RequestID  string            `json:"request_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewSecurityEvent stamps a new event with a fresh ID and the current time.
func NewSecurityEvent(eventType SecurityEventType, userID uuid.UUID, requestID string) *SecurityEvent {
	return &SecurityEvent{
		ID:         uuid.New(),
		Type:       eventType,
		UserID:     userID,
		RequestID:  requestID,
		OccurredAt: time.Now().UTC(),
	}
}
