package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EvidenceMessage is the wire schema devices publish on the evidence
// topic. A single message may carry RFID evidence, image evidence, or
// both; each present modality is applied independently.
type EvidenceMessage struct {
	DeviceID     string    `json:"device_id"`
	SessionID    string    `json:"session_id"`
	Timestamp    time.Time `json:"timestamp"`
	RFIDDetected bool      `json:"rfid_detected"`
	RFIDTag      string    `json:"rfid_tag,omitempty"`
	FaceDetected bool      `json:"face_detected"`
	Image        string    `json:"image,omitempty"` // base64
	ImageSize    int       `json:"image_size,omitempty"`
}

const maxImageSize = 10 * 1024 * 1024

// ParseEvidenceMessage decodes and validates one evidence payload.
// Malformed payloads are rejected here so the ingress handler can drop
// them with a warning instead of crashing.
func ParseEvidenceMessage(payload []byte) (*EvidenceMessage, error) {
	var msg EvidenceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode evidence message: %w", err)
	}
	if msg.SessionID == "" {
		return nil, fmt.Errorf("evidence message missing session_id")
	}
	if msg.DeviceID == "" {
		return nil, fmt.Errorf("evidence message missing device_id")
	}
	if msg.ImageSize < 0 || msg.ImageSize > maxImageSize {
		return nil, fmt.Errorf("evidence message image_size out of range: %d", msg.ImageSize)
	}
	if msg.RFIDDetected && msg.RFIDTag == "" {
		return nil, fmt.Errorf("evidence message rfid_detected without rfid_tag")
	}
	if !msg.RFIDDetected && msg.Image == "" {
		return nil, fmt.Errorf("evidence message carries no usable evidence")
	}
	return &msg, nil
}

// HasImageEvidence reports whether the message carries an image capture
// to process (even one the device flagged as face_detected=false, which
// still counts as the image modality reporting in).
func (m *EvidenceMessage) HasImageEvidence() bool {
	return m.Image != "" || m.FaceDetected
}

// EmergencyMessage triggers an immediate override unlock.
type EmergencyMessage struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// UnlockCommand is published on the unlock topic; the physical lock is
// idempotent on repeated UNLOCKs, so at-least-once delivery is fine.
// HoldOpen marks emergency overrides, which keep the door open until
// the controller's hold window elapses.
type UnlockCommand struct {
	Command   string    `json:"command"`
	DeviceID  string    `json:"device_id"`
	AttemptID string    `json:"attempt_id,omitempty"`
	Reason    string    `json:"reason"`
	HoldOpen  bool      `json:"hold_open,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewUnlockCommand(deviceID, attemptID, reason string, holdOpen bool) UnlockCommand {
	return UnlockCommand{
		Command:   "UNLOCK",
		DeviceID:  deviceID,
		AttemptID: attemptID,
		Reason:    reason,
		HoldOpen:  holdOpen,
		Timestamp: time.Now().UTC(),
	}
}
