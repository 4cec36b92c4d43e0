package model

import "time"

// VerificationMethod describes which evidence combination produced a
// decision.
type VerificationMethod string

const (
	MethodRFIDFace               VerificationMethod = "RFID+FACE"
	MethodFaceVerificationFailed VerificationMethod = "FACE_VERIFICATION_FAILED"
	MethodNoReferenceEmbedding   VerificationMethod = "NO_REFERENCE_EMBEDDING"
	MethodRFIDOnlyPendingReview  VerificationMethod = "RFID_ONLY_PENDING_REVIEW"
	MethodFaceOnlyPendingReview  VerificationMethod = "FACE_ONLY_PENDING_REVIEW"
	MethodUnknownRFID            VerificationMethod = "UNKNOWN_RFID"
	MethodNoEvidence             VerificationMethod = "NO_EVIDENCE"
)

// ReviewStatus is distinct from AccessGranted: a pending record always
// has AccessGranted=false until a human approves it.
type ReviewStatus string

const (
	ReviewApproved ReviewStatus = "approved"
	ReviewDenied   ReviewStatus = "denied"
	ReviewPending  ReviewStatus = "pending"
)

// CandidateMatch is a near-neighbour hit over the reference embeddings,
// attached to face-only attempts for the human reviewer.
type CandidateMatch struct {
	EmployeeID string  `json:"employee_id"`
	Name       string  `json:"name"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
}

// VerificationDecision is the immutable output of the decision engine
// for one AccessAttempt. Once written it changes only through the human
// review path, which flips ReviewStatus away from pending.
type VerificationDecision struct {
	AttemptID     string             `json:"attempt_id"`
	DeviceID      string             `json:"device_id"`
	Method        VerificationMethod `json:"method"`
	AccessGranted bool               `json:"access_granted"`
	Confidence    *float64           `json:"confidence,omitempty"` // set only when an embedding comparison ran
	ReviewStatus  ReviewStatus       `json:"review_status"`
	EmployeeID    string             `json:"employee_id,omitempty"`
	Candidates    []CandidateMatch   `json:"candidates,omitempty"`
	ImageRef      string             `json:"image_ref,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}
