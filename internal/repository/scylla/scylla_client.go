package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"access-verifier/internal/config"
	"access-verifier/internal/util"
)

// PreparedStatements holds prepared statements used by the employee repository
type PreparedStatements struct {
	CreateEmployee       *gocql.Query
	CreateRFIDToEmployee *gocql.Query
	GetEmployeeByRFID    *gocql.Query
	GetEmployeeByID      *gocql.Query
	ListEmployees        *gocql.Query
	UpdateLastVerified   *gocql.Query
	DeactivateEmployee   *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateEmployee = s.Session.Query(`
        INSERT INTO employees (
            employee_id, name, rfid_tag, role, email, active,
            face_embedding, photo_ref, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateRFIDToEmployee = s.Session.Query(`
        INSERT INTO employees_by_rfid (rfid_tag, employee_id, created_at)
        VALUES (?, ?, ?) IF NOT EXISTS`)

	prepared.GetEmployeeByRFID = s.Session.Query(`
        SELECT employee_id FROM employees_by_rfid WHERE rfid_tag = ?`)

	prepared.GetEmployeeByID = s.Session.Query(`
        SELECT employee_id, name, rfid_tag, role, email, active,
            face_embedding, photo_ref, created_at
        FROM employees WHERE employee_id = ?`)

	prepared.ListEmployees = s.Session.Query(`
        SELECT employee_id, name, rfid_tag, role, email, active,
            face_embedding, photo_ref, created_at
        FROM employees`)

	prepared.UpdateLastVerified = s.Session.Query(`
        UPDATE employees SET last_verified = ? WHERE employee_id = ?`)

	prepared.DeactivateEmployee = s.Session.Query(`
        UPDATE employees SET active = false WHERE employee_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}
