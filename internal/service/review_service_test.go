package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"access-verifier/internal/model"
	"access-verifier/internal/repository/clickhouse"
)

type fakeAuditQueries struct {
	records map[string]*model.VerificationDecision
}

func (f *fakeAuditQueries) GetByAttemptID(ctx context.Context, attemptID string) (*model.VerificationDecision, error) {
	return f.records[attemptID], nil
}

func (f *fakeAuditQueries) PendingReview(ctx context.Context) ([]*model.VerificationDecision, error) {
	var out []*model.VerificationDecision
	for _, d := range f.records {
		if d.ReviewStatus == model.ReviewPending {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeAuditQueries) ResolvedToday(ctx context.Context) ([]*model.VerificationDecision, error) {
	var out []*model.VerificationDecision
	for _, d := range f.records {
		if d.ReviewStatus != model.ReviewPending {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeAuditQueries) ResolvedHistory(ctx context.Context, page, perPage int) ([]*model.VerificationDecision, int, error) {
	resolved, _ := f.ResolvedToday(ctx)
	return resolved, len(resolved), nil
}

func (f *fakeAuditQueries) ResolveReview(ctx context.Context, attemptID string, approved bool, employeeID string) (*model.VerificationDecision, error) {
	d, ok := f.records[attemptID]
	if !ok {
		return nil, ErrReviewNotFound
	}
	if d.ReviewStatus != model.ReviewPending {
		return nil, clickhouse.ErrNotPending
	}
	if approved {
		d.ReviewStatus = model.ReviewApproved
		d.AccessGranted = true
		if employeeID != "" {
			d.EmployeeID = employeeID
		}
	} else {
		d.ReviewStatus = model.ReviewDenied
	}
	return d, nil
}

type recordingUnlocker struct {
	unlocks []string
}

func (r *recordingUnlocker) Unlock(ctx context.Context, deviceID, attemptID, reason string, holdOpen bool) error {
	r.unlocks = append(r.unlocks, attemptID)
	return nil
}

type recordingNotifier struct {
	sent []model.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n model.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func pendingDecision(attemptID string) *model.VerificationDecision {
	return &model.VerificationDecision{
		AttemptID:    attemptID,
		DeviceID:     "door-1",
		Method:       model.MethodRFIDOnlyPendingReview,
		ReviewStatus: model.ReviewPending,
		Timestamp:    time.Now().UTC(),
	}
}

func newReviewFixture(records ...*model.VerificationDecision) (*ReviewService, *fakeAuditQueries, *recordingUnlocker, *recordingNotifier) {
	audit := &fakeAuditQueries{records: map[string]*model.VerificationDecision{}}
	for _, d := range records {
		audit.records[d.AttemptID] = d
	}
	unlocker := &recordingUnlocker{}
	notifier := &recordingNotifier{}
	svc := NewReviewService(audit, nil, unlocker, notifier, zap.NewNop())
	return svc, audit, unlocker, notifier
}

func TestResolve_Approve_UnlocksAndNotifies(t *testing.T) {
	svc, _, unlocker, notifier := newReviewFixture(pendingDecision("att-1"))

	detail, err := svc.Resolve(context.Background(), "att-1", true, "emp-1")
	require.NoError(t, err)

	require.Equal(t, model.ReviewApproved, detail.ReviewStatus)
	require.True(t, detail.AccessGranted)
	require.Equal(t, "emp-1", detail.EmployeeID)
	require.Equal(t, []string{"att-1"}, unlocker.unlocks)
	require.Len(t, notifier.sent, 1)
	require.Equal(t, model.NotifyAccessGranted, notifier.sent[0].EventType)
}

func TestResolve_Deny_NoUnlock(t *testing.T) {
	svc, _, unlocker, notifier := newReviewFixture(pendingDecision("att-1"))

	detail, err := svc.Resolve(context.Background(), "att-1", false, "")
	require.NoError(t, err)

	require.Equal(t, model.ReviewDenied, detail.ReviewStatus)
	require.False(t, detail.AccessGranted)
	require.Empty(t, unlocker.unlocks)
	require.Equal(t, model.NotifyAccessDenied, notifier.sent[0].EventType)
}

func TestResolve_Twice_SecondGetsNotPending(t *testing.T) {
	svc, _, unlocker, _ := newReviewFixture(pendingDecision("att-1"))

	_, err := svc.Resolve(context.Background(), "att-1", true, "")
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), "att-1", true, "")
	require.ErrorIs(t, err, ErrNotPending)
	require.Len(t, unlocker.unlocks, 1, "a repeated approval must not fire a second unlock")
}

func TestResolve_AlreadyDecidedRecord_NotPending(t *testing.T) {
	decided := pendingDecision("att-1")
	decided.ReviewStatus = model.ReviewApproved
	svc, _, _, _ := newReviewFixture(decided)

	_, err := svc.Resolve(context.Background(), "att-1", false, "")
	require.ErrorIs(t, err, ErrNotPending)
}

func TestResolve_EmptyAttemptID_Invalid(t *testing.T) {
	svc, _, _, _ := newReviewFixture()

	_, err := svc.Resolve(context.Background(), "", true, "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetDetail_Missing_NotFound(t *testing.T) {
	svc, _, _, _ := newReviewFixture()

	_, err := svc.GetDetail(context.Background(), "nope")
	require.ErrorIs(t, err, ErrReviewNotFound)
}

func TestPendingReviews_ReturnsOnlyPending(t *testing.T) {
	resolved := pendingDecision("att-2")
	resolved.ReviewStatus = model.ReviewDenied
	svc, _, _, _ := newReviewFixture(pendingDecision("att-1"), resolved)

	pending, err := svc.PendingReviews(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "att-1", pending[0].AttemptID)
}
