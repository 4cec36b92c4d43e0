package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"access-verifier/internal/model"
)

// Store correlates evidence messages into AccessAttempt records, keyed
// by attempt id. All state transitions happen under one mutex; callers
// must perform I/O (directory lookups, embedding extraction, uploads)
// before calling in, never while a method is executing.
type Store struct {
	mu       sync.Mutex
	attempts map[string]*model.AccessAttempt
	logger   *zap.Logger
	now      func() time.Time
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		attempts: make(map[string]*model.AccessAttempt),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Store) getOrCreateLocked(attemptID, deviceID string) *model.AccessAttempt {
	if attempt, ok := s.attempts[attemptID]; ok {
		return attempt
	}
	now := s.now()
	attempt := &model.AccessAttempt{
		AttemptID:     attemptID,
		DeviceID:      deviceID,
		CreatedAt:     now,
		LastUpdatedAt: now,
		State:         model.StateAwaitingEvidence,
	}
	s.attempts[attemptID] = attempt
	s.logger.Debug("Attempt created",
		zap.String("attempt_id", attemptID),
		zap.String("device_id", deviceID),
	)
	return attempt
}

// ApplyRFIDEvidence associates a scanned tag (and its directory
// resolution, possibly nil for unknown tags) with the attempt. Evidence
// arriving for a terminal attempt is dropped; order relative to the
// image does not matter. Returns true when the evidence was applied.
func (s *Store) ApplyRFIDEvidence(attemptID, deviceID, tag string, employee *model.EmployeeRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := s.getOrCreateLocked(attemptID, deviceID)
	if attempt.Terminal() {
		s.logger.Warn("RFID evidence arrived for terminal attempt, dropping",
			zap.String("attempt_id", attemptID),
			zap.String("state", string(attempt.State)),
		)
		return false
	}
	if attempt.RFIDArrived {
		s.logger.Warn("Duplicate RFID evidence, keeping first",
			zap.String("attempt_id", attemptID),
		)
		return false
	}

	attempt.RFIDTag = tag
	attempt.RFIDArrived = true
	attempt.EmployeeMatch = employee
	attempt.LastUpdatedAt = s.now()
	s.promoteLocked(attempt)
	return true
}

// ApplyImageEvidence records the processed image capture. A nil
// embedding means the capture held no usable face; it still completes
// the image modality.
func (s *Store) ApplyImageEvidence(attemptID, deviceID string, embedding []float32, storageRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := s.getOrCreateLocked(attemptID, deviceID)
	if attempt.Terminal() {
		s.logger.Warn("Image evidence arrived for terminal attempt, dropping",
			zap.String("attempt_id", attemptID),
			zap.String("state", string(attempt.State)),
		)
		return false
	}
	if attempt.Image.Arrived {
		s.logger.Warn("Duplicate image evidence, keeping first",
			zap.String("attempt_id", attemptID),
		)
		return false
	}

	attempt.Image = model.ImageEvidence{
		Arrived:    true,
		Embedding:  embedding,
		StorageRef: storageRef,
	}
	attempt.LastUpdatedAt = s.now()
	s.promoteLocked(attempt)
	return true
}

func (s *Store) promoteLocked(attempt *model.AccessAttempt) {
	if attempt.State == model.StateAwaitingEvidence && attempt.HasAllEvidence() {
		attempt.State = model.StateReadyForDecision
	}
}

// PopReady atomically removes and returns one attempt in
// READY_FOR_DECISION. Removal-on-read means two workers can never pop
// the same attempt. Returns nil when none are ready.
func (s *Store) PopReady() *model.AccessAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, attempt := range s.attempts {
		if attempt.State == model.StateReadyForDecision {
			attempt.State = model.StateDecided
			delete(s.attempts, id)
			return attempt
		}
	}
	return nil
}

// ExpireStale flips attempts older than timeout (and still awaiting
// evidence) to EXPIRED, removes them, and returns them for decisioning
// on whatever partial evidence arrived.
func (s *Store) ExpireStale(timeout time.Duration) []*model.AccessAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-timeout)
	var expired []*model.AccessAttempt
	for id, attempt := range s.attempts {
		if attempt.State == model.StateAwaitingEvidence && attempt.CreatedAt.Before(cutoff) {
			attempt.State = model.StateExpired
			delete(s.attempts, id)
			expired = append(expired, attempt)
		}
	}

	if len(expired) > 0 {
		s.logger.Info("Expired stale attempts", zap.Int("count", len(expired)))
	}
	return expired
}

// Get returns a snapshot pointer for inspection. Present for handlers
// and tests; mutation goes through Apply* methods only.
func (s *Store) Get(attemptID string) (*model.AccessAttempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	return attempt, ok
}

// Len reports how many attempts are currently in flight.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}
