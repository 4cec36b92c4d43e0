package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"access-verifier/internal/config"
	"access-verifier/internal/decision"
	"access-verifier/internal/guard"
	"access-verifier/internal/model"
	"access-verifier/internal/session"
)

type recordingAudit struct {
	decisions []*model.VerificationDecision
}

func (r *recordingAudit) RecordDecision(ctx context.Context, d *model.VerificationDecision) error {
	r.decisions = append(r.decisions, d)
	return nil
}

func (r *recordingAudit) RecordNotification(ctx context.Context, n model.Notification, status string) error {
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(ctx context.Context, n model.Notification) error { return nil }

type nopUnlocker struct{}

func (nopUnlocker) Unlock(ctx context.Context, deviceID, attemptID, reason string, holdOpen bool) error {
	return nil
}

func newTestWorker(t *testing.T, policy config.VerificationConfig) (*Worker, *session.Store, *recordingAudit) {
	t.Helper()
	store := session.NewStore(zap.NewNop())
	audit := &recordingAudit{}
	engine := decision.NewEngine(nil, audit, nopNotifier{}, nopUnlocker{}, nil, policy, zap.NewNop())
	g := guard.NewDuplicateGuard(nil, time.Minute, zap.NewNop())
	return NewWorker(store, g, engine, policy, zap.NewNop()), store, audit
}

func testPolicy() config.VerificationConfig {
	return config.VerificationConfig{
		SimilarityThreshold: 0.85,
		SessionTimeout:      20 * time.Second,
		TickInterval:        time.Millisecond,
		CandidateLimit:      3,
		UnknownRFID:         config.UnknownRFIDReview,
	}
}

func TestWorker_StartsStopped(t *testing.T) {
	w, _, _ := newTestWorker(t, testPolicy())
	require.Equal(t, StateStopped, w.State())
}

func TestWorker_Tick_DecidesReadyAttempt(t *testing.T) {
	w, store, audit := newTestWorker(t, testPolicy())

	emp := &model.EmployeeRecord{ID: "emp-1", FaceEmbedding: []float32{1, 0}}
	store.ApplyRFIDEvidence("att-1", "door-1", "TAG001", emp)
	store.ApplyImageEvidence("att-1", "door-1", []float32{1, 0}, "")

	w.Tick(context.Background())

	require.Len(t, audit.decisions, 1)
	require.Equal(t, model.MethodRFIDFace, audit.decisions[0].Method)
	require.True(t, audit.decisions[0].AccessGranted)
	require.Equal(t, 0, store.Len())
}

func TestWorker_Tick_ExpiresAndDecidesOnPartialEvidence(t *testing.T) {
	policy := testPolicy()
	policy.SessionTimeout = 0 // everything is immediately stale
	w, store, audit := newTestWorker(t, policy)

	store.ApplyRFIDEvidence("att-1", "door-1", "TAG001", &model.EmployeeRecord{ID: "emp-1"})
	time.Sleep(time.Millisecond)

	w.Tick(context.Background())

	require.Len(t, audit.decisions, 1)
	require.Equal(t, model.MethodRFIDOnlyPendingReview, audit.decisions[0].Method)
	require.Equal(t, model.ReviewPending, audit.decisions[0].ReviewStatus)
}

func TestWorker_Tick_DrainsAllReadyAttempts(t *testing.T) {
	w, store, audit := newTestWorker(t, testPolicy())

	for _, id := range []string{"a", "b", "c"} {
		store.ApplyRFIDEvidence(id, "door-1", "TAG", nil)
		store.ApplyImageEvidence(id, "door-1", nil, "")
	}

	w.Tick(context.Background())
	require.Len(t, audit.decisions, 3)
}

func TestWorker_EachAttemptDecidedOnce(t *testing.T) {
	w, store, audit := newTestWorker(t, testPolicy())

	store.ApplyRFIDEvidence("att-1", "door-1", "TAG001", nil)
	store.ApplyImageEvidence("att-1", "door-1", nil, "")

	w.Tick(context.Background())
	w.Tick(context.Background())

	require.Len(t, audit.decisions, 1)
}

func TestWorker_PauseAndResume(t *testing.T) {
	w, _, _ := newTestWorker(t, testPolicy())
	w.setState(StateRunning)

	w.Pause(0)
	require.Equal(t, StatePaused, w.State())

	w.Resume()
	require.Equal(t, StateRunning, w.State())
}

func TestWorker_PauseAutoResumesAfterHold(t *testing.T) {
	w, _, _ := newTestWorker(t, testPolicy())
	w.setState(StateRunning)

	w.Pause(10 * time.Millisecond)
	require.Equal(t, StatePaused, w.State())

	require.Eventually(t, func() bool {
		return w.State() == StateRunning
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_PauseWhileStopped_IsNoop(t *testing.T) {
	w, _, _ := newTestWorker(t, testPolicy())

	w.Pause(time.Minute)
	require.Equal(t, StateStopped, w.State())
}

func TestWorker_RunStopsOnContextCancel(t *testing.T) {
	w, _, _ := newTestWorker(t, testPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return w.State() == StateRunning
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
	require.Equal(t, StateStopped, w.State())
}
