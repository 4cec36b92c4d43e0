package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"access-verifier/internal/config"
	"access-verifier/internal/embedding"
	"access-verifier/internal/model"
	"access-verifier/internal/notify"
	"access-verifier/internal/repository/clickhouse"
	"access-verifier/internal/repository/es"
)

// DirectoryToucher updates bookkeeping on the employee record after a
// successful verification.
type DirectoryToucher interface {
	TouchLastVerified(ctx context.Context, employeeID string) error
}

// Engine turns a finalized AccessAttempt into exactly one
// VerificationDecision: one audit write, one notification, and an
// unlock command when access is granted. It holds no state of its own;
// idempotency across retries belongs to the guard and the audit sink.
type Engine struct {
	searcher  es.SimilaritySearcher
	audit     clickhouse.AuditSink
	notifier  notify.Notifier
	unlocker  notify.Unlocker
	directory DirectoryToucher
	policy    config.VerificationConfig
	logger    *zap.Logger
}

func NewEngine(
	searcher es.SimilaritySearcher,
	audit clickhouse.AuditSink,
	notifier notify.Notifier,
	unlocker notify.Unlocker,
	directory DirectoryToucher,
	policy config.VerificationConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		searcher:  searcher,
		audit:     audit,
		notifier:  notifier,
		unlocker:  unlocker,
		directory: directory,
		policy:    policy,
		logger:    logger,
	}
}

// Decide evaluates the evidence and carries the outcome to completion.
// The audit write happens before the unlock so a crash between the two
// re-runs as a no-op update rather than a second grant.
func (e *Engine) Decide(ctx context.Context, attempt *model.AccessAttempt) (*model.VerificationDecision, error) {
	decision := e.evaluate(ctx, attempt)

	if decision.AccessGranted &&
		(decision.ReviewStatus != model.ReviewApproved || decision.Method != model.MethodRFIDFace) {
		// Should be unreachable; refuse the grant and surface it.
		e.logger.Error("Decision violated grant invariant, downgrading to pending",
			zap.String("attempt_id", decision.AttemptID),
			zap.String("method", string(decision.Method)),
		)
		decision.AccessGranted = false
		decision.ReviewStatus = model.ReviewPending
	}

	if err := e.audit.RecordDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to record decision for %s: %w", attempt.AttemptID, err)
	}

	if decision.AccessGranted {
		if err := e.unlocker.Unlock(ctx, decision.DeviceID, decision.AttemptID, "verified", false); err != nil {
			// The grant is already durable; the lock controller will
			// honor a replayed command on the next delivery.
			e.logger.Error("Failed to publish unlock after grant",
				zap.String("attempt_id", decision.AttemptID),
				zap.Error(err),
			)
		}
		if e.directory != nil && decision.EmployeeID != "" {
			if err := e.directory.TouchLastVerified(ctx, decision.EmployeeID); err != nil {
				e.logger.Warn("Failed to update last-verified timestamp",
					zap.String("employee_id", decision.EmployeeID),
					zap.Error(err),
				)
			}
		}
	}

	eventType, severity := model.NotificationFor(decision.Method, decision.AccessGranted)
	n := model.NewNotification(eventType, severity, decision.AttemptID, messageFor(decision))
	n.EmployeeID = decision.EmployeeID
	n.ImageRef = decision.ImageRef
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Error("Failed to deliver decision notification",
			zap.String("attempt_id", decision.AttemptID),
			zap.Error(err),
		)
	}

	return decision, nil
}

// evaluate applies the evidence-combination table in precedence order.
// It performs reads only (similarity search); all writes happen in
// Decide.
func (e *Engine) evaluate(ctx context.Context, attempt *model.AccessAttempt) *model.VerificationDecision {
	d := &model.VerificationDecision{
		AttemptID: attempt.AttemptID,
		DeviceID:  attempt.DeviceID,
		ImageRef:  attempt.Image.StorageRef,
		Timestamp: time.Now().UTC(),
	}

	employee := attempt.EmployeeMatch
	probe := attempt.Image.Embedding

	switch {
	case attempt.RFIDArrived && employee != nil && probe != nil:
		e.compareAgainstReference(d, employee, probe)

	case attempt.RFIDArrived && employee != nil:
		// Badge resolved but no usable face arrived in time.
		d.Method = model.MethodRFIDOnlyPendingReview
		d.AccessGranted = false
		d.ReviewStatus = model.ReviewPending
		d.EmployeeID = employee.ID

	case attempt.RFIDArrived:
		d.Method = model.MethodUnknownRFID
		d.AccessGranted = false
		if e.policy.UnknownRFID == config.UnknownRFIDDeny {
			d.ReviewStatus = model.ReviewDenied
		} else {
			d.ReviewStatus = model.ReviewPending
			if probe != nil {
				d.Candidates = e.findCandidates(ctx, probe)
			}
		}

	case probe != nil:
		d.Method = model.MethodFaceOnlyPendingReview
		d.AccessGranted = false
		d.ReviewStatus = model.ReviewPending
		d.Candidates = e.findCandidates(ctx, probe)

	default:
		d.Method = model.MethodNoEvidence
		d.AccessGranted = false
		d.ReviewStatus = model.ReviewDenied
	}

	return d
}

// compareAgainstReference handles the full-evidence cell: both
// modalities present and the badge resolved to an employee.
func (e *Engine) compareAgainstReference(d *model.VerificationDecision, employee *model.EmployeeRecord, probe []float32) {
	d.EmployeeID = employee.ID

	if !employee.HasReferenceEmbedding() {
		d.Method = model.MethodNoReferenceEmbedding
		d.AccessGranted = false
		d.ReviewStatus = model.ReviewPending
		return
	}

	similarity, err := embedding.CosineSimilarity(probe, employee.FaceEmbedding)
	if err != nil {
		// Dimension mismatch or degenerate vector. Treated as a failed
		// verification with no confidence, never as a loop failure.
		if errors.Is(err, embedding.ErrDimensionMismatch) {
			e.logger.Error("Embedding dimension mismatch",
				zap.String("attempt_id", d.AttemptID),
				zap.String("employee_id", employee.ID),
				zap.Int("probe_dim", len(probe)),
				zap.Int("reference_dim", len(employee.FaceEmbedding)),
			)
		} else {
			e.logger.Error("Embedding comparison failed",
				zap.String("attempt_id", d.AttemptID),
				zap.Error(err),
			)
		}
		d.Method = model.MethodFaceVerificationFailed
		d.AccessGranted = false
		d.ReviewStatus = model.ReviewPending
		return
	}

	d.Confidence = &similarity

	if similarity >= e.policy.SimilarityThreshold {
		d.Method = model.MethodRFIDFace
		d.AccessGranted = true
		d.ReviewStatus = model.ReviewApproved
		return
	}

	d.Method = model.MethodFaceVerificationFailed
	d.AccessGranted = false
	d.ReviewStatus = model.ReviewPending
}

func (e *Engine) findCandidates(ctx context.Context, probe []float32) []model.CandidateMatch {
	if e.searcher == nil {
		return nil
	}
	candidates, err := e.searcher.FindSimilar(ctx, probe, 0, e.policy.CandidateLimit)
	if err != nil {
		// Candidates are an aid for the reviewer, not a gate.
		e.logger.Warn("Candidate search failed", zap.Error(err))
		return nil
	}
	return candidates
}

func messageFor(d *model.VerificationDecision) string {
	switch d.Method {
	case model.MethodRFIDFace:
		return fmt.Sprintf("Access granted to employee %s at device %s", d.EmployeeID, d.DeviceID)
	case model.MethodFaceVerificationFailed:
		return fmt.Sprintf("Face verification failed for employee %s at device %s", d.EmployeeID, d.DeviceID)
	case model.MethodNoReferenceEmbedding:
		return fmt.Sprintf("Employee %s has no reference embedding enrolled", d.EmployeeID)
	case model.MethodRFIDOnlyPendingReview:
		return fmt.Sprintf("Badge scan without usable face at device %s, queued for review", d.DeviceID)
	case model.MethodFaceOnlyPendingReview:
		return fmt.Sprintf("Face capture without badge scan at device %s, queued for review", d.DeviceID)
	case model.MethodUnknownRFID:
		return fmt.Sprintf("Unknown RFID tag scanned at device %s", d.DeviceID)
	case model.MethodNoEvidence:
		return fmt.Sprintf("Attempt at device %s expired with no usable evidence", d.DeviceID)
	default:
		return fmt.Sprintf("Access attempt %s processed", d.AttemptID)
	}
}
