package model

import (
	"time"
)

// AttemptState tracks an access attempt through its lifecycle. Exactly
// one of AWAITING_EVIDENCE/READY_FOR_DECISION holds until the attempt is
// decided or expired; terminal states are write-once.
type AttemptState string

const (
	StateAwaitingEvidence AttemptState = "AWAITING_EVIDENCE"
	StateReadyForDecision AttemptState = "READY_FOR_DECISION"
	StateDecided          AttemptState = "DECIDED"
	StateExpired          AttemptState = "EXPIRED"
)

// ImageEvidence is the outcome of processing one image capture. A nil
// Embedding with Arrived=true means the capture was processed but no
// face was found; that is distinct from the evidence not having arrived.
type ImageEvidence struct {
	Arrived    bool
	Embedding  []float32
	StorageRef string
}

// AccessAttempt is the unit of correlation: two causally-unrelated
// evidence messages (RFID scan, image capture) converging on one
// physical attempt, keyed by the device-assigned attempt id.
type AccessAttempt struct {
	AttemptID     string
	DeviceID      string
	CreatedAt     time.Time
	LastUpdatedAt time.Time

	RFIDTag       string // empty until an RFID event is associated
	RFIDArrived   bool
	EmployeeMatch *EmployeeRecord // resolved from RFIDTag, nil if unknown tag

	Image ImageEvidence

	State AttemptState
}

// HasAllEvidence reports whether both modalities have arrived. Arrival
// is what matters: a no-face image or an unknown tag still counts as the
// modality having reported in.
func (a *AccessAttempt) HasAllEvidence() bool {
	return a.RFIDArrived && a.Image.Arrived
}

// Terminal reports whether the attempt may no longer be mutated.
func (a *AccessAttempt) Terminal() bool {
	return a.State == StateDecided || a.State == StateExpired
}
