package clickhouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"access-verifier/internal/client"
	"access-verifier/internal/model"
)

// ErrNotPending is returned when a human-review resolution targets a
// record that is no longer (or never was) pending.
var ErrNotPending = errors.New("audit record is not pending review")

// AuditSink is the write half of the audit contract: exactly one record
// per attempt id, with redelivered decisions updating the existing row
// instead of erroring.
type AuditSink interface {
	RecordDecision(ctx context.Context, decision *model.VerificationDecision) error
	RecordNotification(ctx context.Context, n model.Notification, status string) error
}

// AuditQueries is the read half consumed by the review dashboard.
type AuditQueries interface {
	GetByAttemptID(ctx context.Context, attemptID string) (*model.VerificationDecision, error)
	PendingReview(ctx context.Context) ([]*model.VerificationDecision, error)
	ResolvedToday(ctx context.Context) ([]*model.VerificationDecision, error)
	ResolvedHistory(ctx context.Context, page, perPage int) ([]*model.VerificationDecision, int, error)
	ResolveReview(ctx context.Context, attemptID string, approved bool, employeeID string) (*model.VerificationDecision, error)
}

// AuditRepository stores decisions in ClickHouse. ClickHouse has no
// unique constraints, so idempotency on attempt_id is done the
// check-then-update way: an existing row is mutated in place and the
// insert is skipped.
type AuditRepository struct {
	client *client.ClickHouseClient
	logger *zap.Logger
}

var (
	_ AuditSink    = (*AuditRepository)(nil)
	_ AuditQueries = (*AuditRepository)(nil)
)

func NewAuditRepository(ch *client.ClickHouseClient, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		client: ch,
		logger: logger,
	}
}

const auditColumns = `attempt_id, device_id, method, access_granted, confidence,
    review_status, employee_id, candidates, image_ref, ts`

// RecordDecision writes the audit row for one attempt. A second write
// for the same attempt id updates the existing row with the newer
// outcome; this is the second line of defense behind the duplicate
// guard's in-progress marks.
func (r *AuditRepository) RecordDecision(ctx context.Context, d *model.VerificationDecision) error {
	existing, err := r.GetByAttemptID(ctx, d.AttemptID)
	if err != nil {
		return fmt.Errorf("failed to check existing audit record: %w", err)
	}

	if existing != nil {
		r.logger.Warn("Audit record already exists for attempt, updating in place",
			zap.String("attempt_id", d.AttemptID),
			zap.String("method", string(d.Method)),
		)
		return r.updateDecision(ctx, d)
	}

	err = r.client.Exec(ctx, fmt.Sprintf(`
        INSERT INTO access_logs (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, auditColumns),
		d.AttemptID, d.DeviceID, string(d.Method), boolToUInt8(d.AccessGranted),
		d.Confidence, string(d.ReviewStatus), nullable(d.EmployeeID),
		encodeCandidates(d.Candidates), nullable(d.ImageRef), d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	r.logger.Info("Access attempt logged",
		zap.String("attempt_id", d.AttemptID),
		zap.String("method", string(d.Method)),
		zap.Bool("access_granted", d.AccessGranted),
		zap.String("review_status", string(d.ReviewStatus)),
	)
	return nil
}

func (r *AuditRepository) updateDecision(ctx context.Context, d *model.VerificationDecision) error {
	err := r.client.Exec(ctx, `
        ALTER TABLE access_logs UPDATE
            method = ?, access_granted = ?, confidence = ?,
            review_status = ?, employee_id = ?, candidates = ?,
            image_ref = ?, ts = ?
        WHERE attempt_id = ?`,
		string(d.Method), boolToUInt8(d.AccessGranted), d.Confidence,
		string(d.ReviewStatus), nullable(d.EmployeeID),
		encodeCandidates(d.Candidates), nullable(d.ImageRef),
		d.Timestamp, d.AttemptID,
	)
	if err != nil {
		return fmt.Errorf("failed to update audit record: %w", err)
	}
	return nil
}

func (r *AuditRepository) GetByAttemptID(ctx context.Context, attemptID string) (*model.VerificationDecision, error) {
	rows, err := r.client.QueryRows(ctx, fmt.Sprintf(`
        SELECT %s FROM access_logs WHERE attempt_id = ? LIMIT 1`, auditColumns),
		attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	return scanDecision(rows)
}

func (r *AuditRepository) PendingReview(ctx context.Context) ([]*model.VerificationDecision, error) {
	return r.queryDecisions(ctx, fmt.Sprintf(`
        SELECT %s FROM access_logs
        WHERE review_status = 'pending'
        ORDER BY ts DESC`, auditColumns))
}

func (r *AuditRepository) ResolvedToday(ctx context.Context) ([]*model.VerificationDecision, error) {
	return r.queryDecisions(ctx, fmt.Sprintf(`
        SELECT %s FROM access_logs
        WHERE toDate(ts) = today() AND review_status != 'pending'
        ORDER BY ts DESC`, auditColumns))
}

func (r *AuditRepository) ResolvedHistory(ctx context.Context, page, perPage int) ([]*model.VerificationDecision, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}

	var total uint64
	row := r.client.QueryRow(ctx, `
        SELECT count() FROM access_logs WHERE review_status IN ('approved', 'denied')`)
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count resolved records: %w", err)
	}

	decisions, err := r.queryDecisions(ctx, fmt.Sprintf(`
        SELECT %s FROM access_logs
        WHERE review_status IN ('approved', 'denied')
        ORDER BY ts DESC
        LIMIT ? OFFSET ?`, auditColumns),
		perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	return decisions, int(total), nil
}

// ResolveReview flips a pending record to approved/denied. Resolution is
// idempotent: a record that is not pending is left untouched and
// ErrNotPending is returned so the caller can report "not pending"
// without double-triggering an unlock.
func (r *AuditRepository) ResolveReview(ctx context.Context, attemptID string, approved bool, employeeID string) (*model.VerificationDecision, error) {
	existing, err := r.GetByAttemptID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("no audit record for attempt %s", attemptID)
	}
	if existing.ReviewStatus != model.ReviewPending {
		return nil, ErrNotPending
	}

	existing.ReviewStatus = model.ReviewDenied
	if approved {
		existing.ReviewStatus = model.ReviewApproved
		existing.AccessGranted = true
		if employeeID != "" {
			existing.EmployeeID = employeeID
		}
	}

	if err := r.updateDecision(ctx, existing); err != nil {
		return nil, err
	}

	r.logger.Info("Review resolved",
		zap.String("attempt_id", attemptID),
		zap.Bool("approved", approved),
	)
	return existing, nil
}

// RecordNotification appends to the notification history table.
func (r *AuditRepository) RecordNotification(ctx context.Context, n model.Notification, status string) error {
	err := r.client.Exec(ctx, `
        INSERT INTO notification_history
            (id, event_type, severity, attempt_id, employee_id, message, image_ref, status, ts)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.EventType), string(n.Severity), n.AttemptID,
		nullable(n.EmployeeID), n.Message, nullable(n.ImageRef), status, n.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record notification history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(rows rowScanner) (*model.VerificationDecision, error) {
	var (
		d          model.VerificationDecision
		method     string
		granted    uint8
		status     string
		employeeID *string
		candidates string
		imageRef   *string
	)
	err := rows.Scan(&d.AttemptID, &d.DeviceID, &method, &granted,
		&d.Confidence, &status, &employeeID, &candidates, &imageRef, &d.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}
	d.Method = model.VerificationMethod(method)
	d.AccessGranted = granted != 0
	d.ReviewStatus = model.ReviewStatus(status)
	if employeeID != nil {
		d.EmployeeID = *employeeID
	}
	if candidates != "" {
		if err := json.Unmarshal([]byte(candidates), &d.Candidates); err != nil {
			return nil, fmt.Errorf("failed to decode candidates: %w", err)
		}
	}
	if imageRef != nil {
		d.ImageRef = *imageRef
	}
	return &d, nil
}

func (r *AuditRepository) queryDecisions(ctx context.Context, query string, args ...interface{}) ([]*model.VerificationDecision, error) {
	rows, err := r.client.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var out []*model.VerificationDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func encodeCandidates(candidates []model.CandidateMatch) string {
	if len(candidates) == 0 {
		return ""
	}
	encoded, err := json.Marshal(candidates)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// Schema reference, applied out-of-band:
//
//	CREATE TABLE access_logs (
//	    attempt_id String, device_id String, method String,
//	    access_granted UInt8, confidence Nullable(Float64),
//	    review_status String, employee_id Nullable(String),
//	    candidates String, image_ref Nullable(String), ts DateTime
//	) ENGINE = MergeTree ORDER BY (attempt_id, ts);
//
//	CREATE TABLE notification_history (
//	    id String, event_type String, severity String, attempt_id String,
//	    employee_id Nullable(String), message String,
//	    image_ref Nullable(String), status String, ts DateTime
//	) ENGINE = MergeTree ORDER BY ts;
