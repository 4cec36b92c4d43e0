package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"access-verifier/internal/model"
	"access-verifier/internal/notify"
	"access-verifier/internal/repository/clickhouse"
	"access-verifier/internal/storage"
)

var (
	ErrReviewNotFound = errors.New("review not found")
	ErrNotPending     = errors.New("attempt is not pending review")
	ErrInvalidInput   = errors.New("invalid input")
)

// ReviewDetail is a pending or resolved decision enriched for the
// dashboard: candidates inline and the capture as a short-lived URL.
type ReviewDetail struct {
	*model.VerificationDecision
	ImageURL string `json:"image_url,omitempty"`
}

// ReviewService backs the human review dashboard. Resolution is
// write-once: only a pending record can be approved or denied, and a
// repeated resolution reports ErrNotPending instead of double-firing
// the unlock.
type ReviewService struct {
	audit    clickhouse.AuditQueries
	images   storage.ImageStore
	unlocker notify.Unlocker
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewReviewService(
	audit clickhouse.AuditQueries,
	images storage.ImageStore,
	unlocker notify.Unlocker,
	notifier notify.Notifier,
	logger *zap.Logger,
) *ReviewService {
	return &ReviewService{
		audit:    audit,
		images:   images,
		unlocker: unlocker,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *ReviewService) PendingReviews(ctx context.Context) ([]*ReviewDetail, error) {
	decisions, err := s.audit.PendingReview(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending reviews: %w", err)
	}
	return s.enrich(ctx, decisions), nil
}

func (s *ReviewService) TodaysResolved(ctx context.Context) ([]*ReviewDetail, error) {
	decisions, err := s.audit.ResolvedToday(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load today's resolved attempts: %w", err)
	}
	return s.enrich(ctx, decisions), nil
}

func (s *ReviewService) History(ctx context.Context, page, perPage int) ([]*ReviewDetail, int, error) {
	decisions, total, err := s.audit.ResolvedHistory(ctx, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load review history: %w", err)
	}
	return s.enrich(ctx, decisions), total, nil
}

func (s *ReviewService) GetDetail(ctx context.Context, attemptID string) (*ReviewDetail, error) {
	if attemptID == "" {
		return nil, ErrInvalidInput
	}
	decision, err := s.audit.GetByAttemptID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt %s: %w", attemptID, err)
	}
	if decision == nil {
		return nil, ErrReviewNotFound
	}
	detail := &ReviewDetail{VerificationDecision: decision}
	detail.ImageURL = s.imageURL(ctx, decision.ImageRef)
	return detail, nil
}

// Resolve applies a human verdict. Approval grants access after the
// fact: the door gets an unlock command and the employee (when the
// reviewer identified one) is recorded on the audit row.
func (s *ReviewService) Resolve(ctx context.Context, attemptID string, approved bool, employeeID string) (*ReviewDetail, error) {
	if attemptID == "" {
		return nil, ErrInvalidInput
	}

	decision, err := s.audit.ResolveReview(ctx, attemptID, approved, employeeID)
	if err != nil {
		if errors.Is(err, clickhouse.ErrNotPending) {
			return nil, ErrNotPending
		}
		return nil, err
	}

	if approved {
		if err := s.unlocker.Unlock(ctx, decision.DeviceID, attemptID, "manual_approval", false); err != nil {
			s.logger.Error("Failed to publish unlock after manual approval",
				zap.String("attempt_id", attemptID),
				zap.Error(err),
			)
		}
	}

	eventType := model.NotifyAccessDenied
	message := fmt.Sprintf("Reviewer denied attempt %s", attemptID)
	if approved {
		eventType = model.NotifyAccessGranted
		message = fmt.Sprintf("Reviewer approved attempt %s", attemptID)
	}
	n := model.NewNotification(eventType, model.SeverityInfo, attemptID, message)
	n.EmployeeID = decision.EmployeeID
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error("Failed to deliver review notification",
			zap.String("attempt_id", attemptID),
			zap.Error(err),
		)
	}

	detail := &ReviewDetail{VerificationDecision: decision}
	detail.ImageURL = s.imageURL(ctx, decision.ImageRef)
	return detail, nil
}

func (s *ReviewService) enrich(ctx context.Context, decisions []*model.VerificationDecision) []*ReviewDetail {
	details := make([]*ReviewDetail, 0, len(decisions))
	for _, d := range decisions {
		details = append(details, &ReviewDetail{
			VerificationDecision: d,
			ImageURL:             s.imageURL(ctx, d.ImageRef),
		})
	}
	return details
}

func (s *ReviewService) imageURL(ctx context.Context, ref string) string {
	if ref == "" || s.images == nil {
		return ""
	}
	url, err := s.images.ImageURL(ctx, ref)
	if err != nil {
		s.logger.Warn("Failed to presign capture URL", zap.Error(err))
		return ""
	}
	return url
}
