package model

import "time"

// EmployeeRecord is the directory entry an RFID tag resolves to. An
// employee enrolled without a photo has a nil FaceEmbedding and can
// never pass automated face verification.
type EmployeeRecord struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	RFIDTag       string    `json:"rfid_tag"`
	Role          string    `json:"role"`
	Email         string    `json:"email"`
	Active        bool      `json:"active"`
	FaceEmbedding []float32 `json:"-"`
	PhotoRef      string    `json:"photo_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasReferenceEmbedding reports whether automated face verification is
// possible for this employee.
func (e *EmployeeRecord) HasReferenceEmbedding() bool {
	return e != nil && len(e.FaceEmbedding) > 0
}
