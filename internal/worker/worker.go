package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"access-verifier/internal/config"
	"access-verifier/internal/decision"
	"access-verifier/internal/guard"
	"access-verifier/internal/model"
	"access-verifier/internal/session"
)

// State is the decision worker's lifecycle state. PAUSED keeps the
// ticker alive but skips processing, used during emergency overrides so
// normal decisions resume cleanly when the hold window ends.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
)

// Worker drains the session store on a fixed tick: first expiring stale
// attempts and deciding them on partial evidence, then deciding every
// attempt with full evidence. Each decision passes through the
// duplicate guard so redelivered evidence never produces two audit
// records.
type Worker struct {
	store  *session.Store
	guard  *guard.DuplicateGuard
	engine *decision.Engine
	policy config.VerificationConfig
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	resume  *time.Timer
}

func NewWorker(store *session.Store, g *guard.DuplicateGuard, engine *decision.Engine, policy config.VerificationConfig, logger *zap.Logger) *Worker {
	return &Worker{
		store:  store,
		guard:  g,
		engine: engine,
		policy: policy,
		logger: logger,
		state:  StateStopped,
	}
}

// Run drives the tick loop until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateRunning)
	defer w.setState(StateStopped)

	w.logger.Info("Decision worker started",
		zap.Duration("tick_interval", w.policy.TickInterval),
		zap.Duration("session_timeout", w.policy.SessionTimeout),
	)

	ticker := time.NewTicker(w.policy.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Decision worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if w.State() != StateRunning {
				continue
			}
			w.Tick(ctx)
		}
	}
}

// Tick runs one pass: expire then decide. Exposed for tests and for
// callers that drive the loop manually.
func (w *Worker) Tick(ctx context.Context) {
	for _, attempt := range w.store.ExpireStale(w.policy.SessionTimeout) {
		w.decideOne(ctx, attempt)
	}
	for {
		attempt := w.store.PopReady()
		if attempt == nil {
			return
		}
		w.decideOne(ctx, attempt)
	}
}

func (w *Worker) decideOne(ctx context.Context, attempt *model.AccessAttempt) {
	if !w.guard.TryBegin(ctx, attempt.AttemptID) {
		w.logger.Debug("Attempt already being decided elsewhere, skipping",
			zap.String("attempt_id", attempt.AttemptID),
		)
		return
	}

	decision, err := w.engine.Decide(ctx, attempt)
	if err != nil {
		// Leave the guard mark to its TTL; a redelivery will retry the
		// idempotent audit write.
		w.logger.Error("Decision failed",
			zap.String("attempt_id", attempt.AttemptID),
			zap.Error(err),
		)
		w.guard.End(ctx, attempt.AttemptID)
		return
	}

	w.guard.MarkDecided(ctx, attempt.AttemptID)
	w.guard.End(ctx, attempt.AttemptID)

	w.logger.Info("Attempt decided",
		zap.String("attempt_id", attempt.AttemptID),
		zap.String("method", string(decision.Method)),
		zap.Bool("access_granted", decision.AccessGranted),
	)
}

// Pause suspends decisioning for the given hold duration, after which
// the worker resumes on its own. A zero duration pauses until Resume.
func (w *Worker) Pause(hold time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateRunning {
		return
	}
	w.state = StatePaused
	w.logger.Warn("Decision worker paused", zap.Duration("hold", hold))

	if w.resume != nil {
		w.resume.Stop()
		w.resume = nil
	}
	if hold > 0 {
		w.resume = time.AfterFunc(hold, w.Resume)
	}
}

// Resume returns a paused worker to RUNNING.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StatePaused {
		return
	}
	if w.resume != nil {
		w.resume.Stop()
		w.resume = nil
	}
	w.state = StateRunning
	w.logger.Info("Decision worker resumed")
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}
