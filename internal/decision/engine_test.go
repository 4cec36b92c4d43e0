package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"access-verifier/internal/config"
	"access-verifier/internal/model"
)

type fakeSearcher struct {
	candidates []model.CandidateMatch
	err        error
	calls      int
}

func (f *fakeSearcher) FindSimilar(ctx context.Context, vector []float32, minSimilarity float64, limit int) ([]model.CandidateMatch, error) {
	f.calls++
	return f.candidates, f.err
}

type fakeAudit struct {
	decisions     []*model.VerificationDecision
	notifications []model.Notification
	recordErr     error
}

func (f *fakeAudit) RecordDecision(ctx context.Context, d *model.VerificationDecision) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakeAudit) RecordNotification(ctx context.Context, n model.Notification, status string) error {
	f.notifications = append(f.notifications, n)
	return nil
}

type fakeNotifier struct {
	sent []model.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n model.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

type fakeUnlocker struct {
	unlocks []string
}

func (f *fakeUnlocker) Unlock(ctx context.Context, deviceID, attemptID, reason string, holdOpen bool) error {
	f.unlocks = append(f.unlocks, attemptID)
	return nil
}

type fakeToucher struct {
	touched []string
}

func (f *fakeToucher) TouchLastVerified(ctx context.Context, employeeID string) error {
	f.touched = append(f.touched, employeeID)
	return nil
}

type engineFixture struct {
	engine   *Engine
	searcher *fakeSearcher
	audit    *fakeAudit
	notifier *fakeNotifier
	unlocker *fakeUnlocker
	toucher  *fakeToucher
}

func newFixture(policy config.VerificationConfig) *engineFixture {
	fx := &engineFixture{
		searcher: &fakeSearcher{},
		audit:    &fakeAudit{},
		notifier: &fakeNotifier{},
		unlocker: &fakeUnlocker{},
		toucher:  &fakeToucher{},
	}
	fx.engine = NewEngine(fx.searcher, fx.audit, fx.notifier, fx.unlocker, fx.toucher, policy, zap.NewNop())
	return fx
}

func defaultPolicy() config.VerificationConfig {
	return config.VerificationConfig{
		SimilarityThreshold: 0.85,
		CandidateLimit:      3,
		UnknownRFID:         config.UnknownRFIDReview,
	}
}

func fullAttempt(probe, reference []float32) *model.AccessAttempt {
	return &model.AccessAttempt{
		AttemptID:   "att-1",
		DeviceID:    "door-1",
		RFIDTag:     "TAG001",
		RFIDArrived: true,
		EmployeeMatch: &model.EmployeeRecord{
			ID:            "emp-1",
			Name:          "Dana",
			FaceEmbedding: reference,
		},
		Image: model.ImageEvidence{Arrived: true, Embedding: probe, StorageRef: "s3://b/k"},
		State: model.StateDecided,
	}
}

func TestDecide_MatchAboveThreshold_Grants(t *testing.T) {
	fx := newFixture(defaultPolicy())

	d, err := fx.engine.Decide(context.Background(), fullAttempt(
		[]float32{1, 0, 0}, []float32{1, 0, 0}))
	require.NoError(t, err)

	require.Equal(t, model.MethodRFIDFace, d.Method)
	require.True(t, d.AccessGranted)
	require.Equal(t, model.ReviewApproved, d.ReviewStatus)
	require.NotNil(t, d.Confidence)
	require.InDelta(t, 1.0, *d.Confidence, 1e-9)
	require.Equal(t, "emp-1", d.EmployeeID)

	require.Len(t, fx.audit.decisions, 1)
	require.Len(t, fx.notifier.sent, 1)
	require.Equal(t, model.NotifyAccessGranted, fx.notifier.sent[0].EventType)
	require.Equal(t, model.SeverityInfo, fx.notifier.sent[0].Severity)
	require.Equal(t, []string{"att-1"}, fx.unlocker.unlocks)
	require.Equal(t, []string{"emp-1"}, fx.toucher.touched)
}

func TestDecide_ExactlyAtThreshold_Grants(t *testing.T) {
	policy := defaultPolicy()
	policy.SimilarityThreshold = 1.0
	fx := newFixture(policy)

	d, err := fx.engine.Decide(context.Background(), fullAttempt(
		[]float32{2, 4, 6}, []float32{1, 2, 3}))
	require.NoError(t, err)
	require.True(t, d.AccessGranted, "similarity equal to the threshold must grant")
}

func TestDecide_BelowThreshold_FailsVerification(t *testing.T) {
	fx := newFixture(defaultPolicy())

	d, err := fx.engine.Decide(context.Background(), fullAttempt(
		[]float32{1, 0, 0}, []float32{0, 1, 0}))
	require.NoError(t, err)

	require.Equal(t, model.MethodFaceVerificationFailed, d.Method)
	require.False(t, d.AccessGranted)
	require.Equal(t, model.ReviewPending, d.ReviewStatus)
	require.NotNil(t, d.Confidence, "a comparison ran, so confidence is recorded")
	require.Empty(t, fx.unlocker.unlocks)
	require.Equal(t, model.NotifyFaceNotRecognized, fx.notifier.sent[0].EventType)
	require.Equal(t, model.SeverityWarning, fx.notifier.sent[0].Severity)
}

func TestDecide_DimensionMismatch_IsVerificationFailureNotError(t *testing.T) {
	fx := newFixture(defaultPolicy())

	d, err := fx.engine.Decide(context.Background(), fullAttempt(
		[]float32{1, 0}, []float32{1, 0, 0}))
	require.NoError(t, err)

	require.Equal(t, model.MethodFaceVerificationFailed, d.Method)
	require.False(t, d.AccessGranted)
	require.Equal(t, model.ReviewPending, d.ReviewStatus)
	require.Nil(t, d.Confidence, "no comparison completed, so no confidence")
	require.Len(t, fx.audit.decisions, 1)
}

func TestDecide_NoReferenceEmbedding(t *testing.T) {
	fx := newFixture(defaultPolicy())

	d, err := fx.engine.Decide(context.Background(), fullAttempt(
		[]float32{1, 0, 0}, nil))
	require.NoError(t, err)

	require.Equal(t, model.MethodNoReferenceEmbedding, d.Method)
	require.False(t, d.AccessGranted)
	require.Equal(t, model.ReviewPending, d.ReviewStatus)
	require.Nil(t, d.Confidence)
}

func TestDecide_RFIDOnly_PendingReview(t *testing.T) {
	fx := newFixture(defaultPolicy())

	attempt := fullAttempt(nil, []float32{1, 0, 0})
	attempt.Image = model.ImageEvidence{Arrived: true} // capture held no face

	d, err := fx.engine.Decide(context.Background(), attempt)
	require.NoError(t, err)

	require.Equal(t, model.MethodRFIDOnlyPendingReview, d.Method)
	require.Equal(t, model.ReviewPending, d.ReviewStatus)
	require.Equal(t, "emp-1", d.EmployeeID)
	require.Equal(t, model.NotifyManualReviewRequired, fx.notifier.sent[0].EventType)
}

func TestDecide_UnknownRFID_ReviewPolicy(t *testing.T) {
	fx := newFixture(defaultPolicy())

	attempt := fullAttempt(nil, nil)
	attempt.EmployeeMatch = nil
	attempt.Image = model.ImageEvidence{Arrived: true}

	d, err := fx.engine.Decide(context.Background(), attempt)
	require.NoError(t, err)

	require.Equal(t, model.MethodUnknownRFID, d.Method)
	require.False(t, d.AccessGranted)
	require.Equal(t, model.ReviewPending, d.ReviewStatus)
	require.Equal(t, model.NotifyRFIDNotFound, fx.notifier.sent[0].EventType)
}

func TestDecide_UnknownRFID_DenyPolicy(t *testing.T) {
	policy := defaultPolicy()
	policy.UnknownRFID = config.UnknownRFIDDeny
	fx := newFixture(policy)

	attempt := fullAttempt(nil, nil)
	attempt.EmployeeMatch = nil
	attempt.Image = model.ImageEvidence{Arrived: true}

	d, err := fx.engine.Decide(context.Background(), attempt)
	require.NoError(t, err)

	require.Equal(t, model.MethodUnknownRFID, d.Method)
	require.Equal(t, model.ReviewDenied, d.ReviewStatus)
	require.Equal(t, 0, fx.searcher.calls, "deny policy skips candidate search")
}

func TestDecide_FaceOnly_PendingWithCandidates(t *testing.T) {
	fx := newFixture(defaultPolicy())
	fx.searcher.candidates = []model.CandidateMatch{
		{EmployeeID: "emp-2", Name: "Kim", Confidence: 0.91},
	}

	attempt := &model.AccessAttempt{
		AttemptID: "att-1",
		DeviceID:  "door-1",
		Image:     model.ImageEvidence{Arrived: true, Embedding: []float32{1, 0, 0}},
		State:     model.StateExpired,
	}

	d, err := fx.engine.Decide(context.Background(), attempt)
	require.NoError(t, err)

	require.Equal(t, model.MethodFaceOnlyPendingReview, d.Method)
	require.Equal(t, model.ReviewPending, d.ReviewStatus)
	require.Len(t, d.Candidates, 1)
	require.Equal(t, "emp-2", d.Candidates[0].EmployeeID)
}

func TestDecide_CandidateSearchFailure_IsNotFatal(t *testing.T) {
	fx := newFixture(defaultPolicy())
	fx.searcher.err = errors.New("cluster red")

	attempt := &model.AccessAttempt{
		AttemptID: "att-1",
		DeviceID:  "door-1",
		Image:     model.ImageEvidence{Arrived: true, Embedding: []float32{1, 0, 0}},
	}

	d, err := fx.engine.Decide(context.Background(), attempt)
	require.NoError(t, err)
	require.Equal(t, model.MethodFaceOnlyPendingReview, d.Method)
	require.Empty(t, d.Candidates)
}

func TestDecide_NoEvidence(t *testing.T) {
	fx := newFixture(defaultPolicy())

	attempt := &model.AccessAttempt{
		AttemptID: "att-1",
		DeviceID:  "door-1",
		State:     model.StateExpired,
	}

	d, err := fx.engine.Decide(context.Background(), attempt)
	require.NoError(t, err)

	require.Equal(t, model.MethodNoEvidence, d.Method)
	require.False(t, d.AccessGranted)
	require.Equal(t, model.ReviewDenied, d.ReviewStatus)
	require.Equal(t, model.SeverityInfo, fx.notifier.sent[0].Severity)
}

func TestDecide_AuditFailure_NoUnlockNoNotification(t *testing.T) {
	fx := newFixture(defaultPolicy())
	fx.audit.recordErr = errors.New("clickhouse down")

	_, err := fx.engine.Decide(context.Background(), fullAttempt(
		[]float32{1, 0, 0}, []float32{1, 0, 0}))
	require.Error(t, err)
	require.Empty(t, fx.unlocker.unlocks, "no grant may escape without a durable audit record")
	require.Empty(t, fx.notifier.sent)
}

func TestDecide_ExactlyOneAuditWriteAndNotification(t *testing.T) {
	fx := newFixture(defaultPolicy())

	for _, attempt := range []*model.AccessAttempt{
		fullAttempt([]float32{1, 0, 0}, []float32{1, 0, 0}),
		fullAttempt([]float32{1, 0, 0}, []float32{0, 1, 0}),
	} {
		fx.audit.decisions = nil
		fx.notifier.sent = nil

		_, err := fx.engine.Decide(context.Background(), attempt)
		require.NoError(t, err)
		require.Len(t, fx.audit.decisions, 1)
		require.Len(t, fx.notifier.sent, 1)
	}
}
