package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType is the single event-type enum for the human-facing
// channel; severity routing hangs off SeverityFor below.
type NotificationType string

const (
	NotifyAccessGranted        NotificationType = "ACCESS_GRANTED"
	NotifyManualReviewRequired NotificationType = "MANUAL_REVIEW_REQUIRED"
	NotifyRFIDNotFound         NotificationType = "RFID_NOT_FOUND"
	NotifyFaceNotRecognized    NotificationType = "FACE_NOT_RECOGNIZED"
	NotifyAccessDenied         NotificationType = "ACCESS_DENIED"
	NotifyNoEvidence           NotificationType = "NO_EVIDENCE"
	NotifyEmergencyOverride    NotificationType = "EMERGENCY_OVERRIDE"
	NotifySystemError          NotificationType = "SYSTEM_ERROR"
)

type SeverityLevel string

const (
	SeverityInfo     SeverityLevel = "info"
	SeverityWarning  SeverityLevel = "warning"
	SeverityCritical SeverityLevel = "critical"
)

// Notification is a human-readable event emitted once per decision (and
// for emergencies and system errors).
type Notification struct {
	ID             string                 `json:"id"`
	EventType      NotificationType       `json:"event_type"`
	Severity       SeverityLevel          `json:"severity"`
	AttemptID      string                 `json:"attempt_id,omitempty"`
	EmployeeID     string                 `json:"employee_id,omitempty"`
	Message        string                 `json:"message"`
	ImageRef       string                 `json:"image_ref,omitempty"`
	AdditionalData map[string]interface{} `json:"additional_data,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// NewNotification fills in the id and timestamp.
func NewNotification(eventType NotificationType, severity SeverityLevel, attemptID, message string) Notification {
	return Notification{
		ID:        uuid.NewString(),
		EventType: eventType,
		Severity:  severity,
		AttemptID: attemptID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NotificationFor maps a decision method to its event type and severity.
// Granted and benign outcomes stay low severity; unknown tags, failed
// verification and pending-review outcomes go to the human channel.
func NotificationFor(method VerificationMethod, granted bool) (NotificationType, SeverityLevel) {
	if granted {
		return NotifyAccessGranted, SeverityInfo
	}
	switch method {
	case MethodUnknownRFID:
		return NotifyRFIDNotFound, SeverityWarning
	case MethodFaceVerificationFailed, MethodNoReferenceEmbedding:
		return NotifyFaceNotRecognized, SeverityWarning
	case MethodRFIDOnlyPendingReview, MethodFaceOnlyPendingReview:
		return NotifyManualReviewRequired, SeverityWarning
	case MethodNoEvidence:
		return NotifyNoEvidence, SeverityInfo
	default:
		return NotifyAccessDenied, SeverityWarning
	}
}
