package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"access-verifier/internal/model"
)

// EmployeeDirectory is the read-mostly lookup contract the decision path
// depends on. Implementations must never block while a session-store
// lock is held; callers do lookups outside critical sections.
type EmployeeDirectory interface {
	FindByRFID(ctx context.Context, rfidTag string) (*model.EmployeeRecord, error)
	GetByID(ctx context.Context, employeeID string) (*model.EmployeeRecord, error)
	Create(ctx context.Context, emp *model.EmployeeRecord) error
	List(ctx context.Context) ([]*model.EmployeeRecord, error)
	TouchLastVerified(ctx context.Context, employeeID string) error
	HealthCheck(ctx context.Context) error
}

// EmployeeRepository implements EmployeeDirectory against ScyllaDB with
// a dedicated rfid_tag -> employee_id lookup table.
type EmployeeRepository struct {
	client *ScyllaClient
	logger *zap.Logger
}

var _ EmployeeDirectory = (*EmployeeRepository)(nil)

func NewEmployeeRepository(client *ScyllaClient, logger *zap.Logger) *EmployeeRepository {
	return &EmployeeRepository{
		client: client,
		logger: logger,
	}
}

// FindByRFID resolves a tag to an employee record. A tag with no entry
// returns (nil, nil): unknown tags are a policy outcome, not an error.
func (r *EmployeeRepository) FindByRFID(ctx context.Context, rfidTag string) (*model.EmployeeRecord, error) {
	var employeeID gocql.UUID

	q := r.client.Prepared.GetEmployeeByRFID.WithContext(ctx).Bind(rfidTag)
	if err := q.Scan(&employeeID); err != nil {
		if err == gocql.ErrNotFound {
			r.logger.Debug("No employee found for RFID tag", zap.String("rfid_tag", rfidTag))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up RFID tag: %w", err)
	}

	return r.GetByID(ctx, employeeID.String())
}

func (r *EmployeeRepository) GetByID(ctx context.Context, employeeID string) (*model.EmployeeRecord, error) {
	id, err := gocql.ParseUUID(employeeID)
	if err != nil {
		return nil, fmt.Errorf("invalid employee id %q: %w", employeeID, err)
	}

	var (
		rec       model.EmployeeRecord
		recID     gocql.UUID
		embedding []float32
	)

	q := r.client.Prepared.GetEmployeeByID.WithContext(ctx).Bind(id)
	err = q.Scan(&recID, &rec.Name, &rec.RFIDTag, &rec.Role, &rec.Email,
		&rec.Active, &embedding, &rec.PhotoRef, &rec.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get employee %s: %w", employeeID, err)
	}

	rec.ID = recID.String()
	rec.FaceEmbedding = embedding
	return &rec, nil
}

// Create inserts a new employee and the rfid lookup row. A tag already
// mapped to another employee is rejected via the LWT on the lookup
// table.
func (r *EmployeeRepository) Create(ctx context.Context, emp *model.EmployeeRecord) error {
	if emp.ID == "" {
		emp.ID = uuid.NewString()
	}
	if emp.CreatedAt.IsZero() {
		emp.CreatedAt = time.Now().UTC()
	}

	id, err := gocql.ParseUUID(emp.ID)
	if err != nil {
		return fmt.Errorf("invalid employee id %q: %w", emp.ID, err)
	}

	applied, err := r.client.Prepared.CreateRFIDToEmployee.WithContext(ctx).
		Bind(emp.RFIDTag, id, emp.CreatedAt).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to reserve RFID tag %s: %w", emp.RFIDTag, err)
	}
	if !applied {
		return fmt.Errorf("rfid tag %s already assigned", emp.RFIDTag)
	}

	err = r.client.Prepared.CreateEmployee.WithContext(ctx).
		Bind(id, emp.Name, emp.RFIDTag, emp.Role, emp.Email, emp.Active,
			emp.FaceEmbedding, emp.PhotoRef, emp.CreatedAt).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to create employee: %w", err)
	}

	r.logger.Info("Employee created",
		zap.String("employee_id", emp.ID),
		zap.String("rfid_tag", emp.RFIDTag),
		zap.Bool("has_embedding", len(emp.FaceEmbedding) > 0),
	)
	return nil
}

func (r *EmployeeRepository) List(ctx context.Context) ([]*model.EmployeeRecord, error) {
	iter := r.client.Prepared.ListEmployees.WithContext(ctx).Iter()

	var out []*model.EmployeeRecord
	for {
		var (
			rec       model.EmployeeRecord
			recID     gocql.UUID
			embedding []float32
		)
		if !iter.Scan(&recID, &rec.Name, &rec.RFIDTag, &rec.Role, &rec.Email,
			&rec.Active, &embedding, &rec.PhotoRef, &rec.CreatedAt) {
			break
		}
		rec.ID = recID.String()
		rec.FaceEmbedding = embedding
		out = append(out, &rec)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	return out, nil
}

func (r *EmployeeRepository) TouchLastVerified(ctx context.Context, employeeID string) error {
	id, err := gocql.ParseUUID(employeeID)
	if err != nil {
		return fmt.Errorf("invalid employee id %q: %w", employeeID, err)
	}
	return r.client.Prepared.UpdateLastVerified.WithContext(ctx).
		Bind(time.Now().UTC(), id).Exec()
}

func (r *EmployeeRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
