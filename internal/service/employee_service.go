package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"access-verifier/internal/embedding"
	"access-verifier/internal/model"
	"access-verifier/internal/repository/es"
	"access-verifier/internal/repository/scylla"
	"access-verifier/internal/util"
)

var (
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrTagTaken         = errors.New("rfid tag already assigned")
	ErrNoFaceInPhoto    = errors.New("no face detected in enrollment photo")
)

// EmployeeCreateRequest is the enrollment payload. The photo is
// optional; without it the employee verifies by badge only until a
// reference embedding is enrolled.
type EmployeeCreateRequest struct {
	Name    string `json:"name"`
	RFIDTag string `json:"rfid_tag"`
	Role    string `json:"role"`
	Email   string `json:"email"`
	Photo   string `json:"photo,omitempty"` // base64 JPEG
}

// EmployeeService handles enrollment and directory queries. Enrollment
// with a photo extracts the reference embedding and indexes it for
// candidate search in the same call.
type EmployeeService struct {
	directory scylla.EmployeeDirectory
	indexer   es.EmbeddingIndexer
	extractor embedding.Extractor
	logger    *zap.Logger
}

func NewEmployeeService(
	directory scylla.EmployeeDirectory,
	indexer es.EmbeddingIndexer,
	extractor embedding.Extractor,
	logger *zap.Logger,
) *EmployeeService {
	return &EmployeeService{
		directory: directory,
		indexer:   indexer,
		extractor: extractor,
		logger:    logger,
	}
}

func (s *EmployeeService) Create(ctx context.Context, req *EmployeeCreateRequest) (*model.EmployeeRecord, error) {
	if req.Name == "" || req.RFIDTag == "" {
		return nil, fmt.Errorf("%w: name and rfid_tag are required", ErrInvalidInput)
	}
	tag := util.SanitizeTag(req.RFIDTag)
	if tag == "" || util.ContainsSuspicious(tag) {
		return nil, fmt.Errorf("%w: unusable rfid_tag", ErrInvalidInput)
	}

	emp := &model.EmployeeRecord{
		Name:    strings.TrimSpace(req.Name),
		RFIDTag: tag,
		Role:    req.Role,
		Email:   req.Email,
		Active:  true,
	}

	if req.Photo != "" {
		photo, err := base64.StdEncoding.DecodeString(req.Photo)
		if err != nil {
			return nil, fmt.Errorf("%w: photo is not valid base64", ErrInvalidInput)
		}
		vector, err := s.extractor.ExtractEmbedding(ctx, photo)
		if err != nil {
			return nil, fmt.Errorf("failed to extract reference embedding: %w", err)
		}
		if vector == nil {
			return nil, ErrNoFaceInPhoto
		}
		emp.FaceEmbedding = vector
	}

	if err := s.directory.Create(ctx, emp); err != nil {
		if strings.Contains(err.Error(), "already assigned") {
			return nil, ErrTagTaken
		}
		return nil, err
	}

	if emp.HasReferenceEmbedding() && s.indexer != nil {
		if err := s.indexer.IndexEmployeeEmbedding(ctx, emp); err != nil {
			// Directory row exists; candidate search just won't find
			// this employee until re-enrollment.
			s.logger.Error("Failed to index reference embedding",
				zap.String("employee_id", emp.ID),
				zap.Error(err),
			)
		}
	}

	return emp, nil
}

func (s *EmployeeService) Get(ctx context.Context, employeeID string) (*model.EmployeeRecord, error) {
	emp, err := s.directory.GetByID(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, ErrEmployeeNotFound
	}
	return emp, nil
}

func (s *EmployeeService) List(ctx context.Context) ([]*model.EmployeeRecord, error) {
	return s.directory.List(ctx)
}

func (s *EmployeeService) HealthCheck(ctx context.Context) error {
	return s.directory.HealthCheck(ctx)
}
