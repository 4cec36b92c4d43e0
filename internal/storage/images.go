package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"access-verifier/internal/client"
)

// ImageStore archives verification captures so human reviewers can see
// what the camera saw.
type ImageStore interface {
	SaveVerificationImage(ctx context.Context, attemptID string, image []byte) (string, error)
	ImageURL(ctx context.Context, storageRef string) (string, error)
}

// S3ImageStore keeps captures under a fixed prefix in the configured
// bucket.
type S3ImageStore struct {
	s3     *client.S3Client
	logger *zap.Logger
}

var _ ImageStore = (*S3ImageStore)(nil)

func NewS3ImageStore(s3 *client.S3Client, logger *zap.Logger) *S3ImageStore {
	return &S3ImageStore{
		s3:     s3,
		logger: logger,
	}
}

func imageKey(attemptID string) string {
	return fmt.Sprintf("verification_images/attempt_%s.jpg", attemptID)
}

// SaveVerificationImage uploads the capture and returns the storage ref
// recorded on the audit row. Upload failure is non-fatal for the
// decision path; callers proceed with an empty ref.
func (s *S3ImageStore) SaveVerificationImage(ctx context.Context, attemptID string, image []byte) (string, error) {
	ref, err := s.s3.PutObject(ctx, imageKey(attemptID), image, "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("failed to store verification image: %w", err)
	}
	s.logger.Debug("Verification image stored",
		zap.String("attempt_id", attemptID),
		zap.Int("bytes", len(image)),
	)
	return ref, nil
}

// ImageURL converts a stored ref into a short-lived download URL for
// the review dashboard.
func (s *S3ImageStore) ImageURL(ctx context.Context, storageRef string) (string, error) {
	if storageRef == "" {
		return "", nil
	}
	// Refs look like s3://bucket/key; strip down to the key.
	key := storageRef
	if i := indexThirdSlash(storageRef); i > 0 {
		key = storageRef[i+1:]
	}
	return s.s3.PresignGetURL(ctx, key, 15*time.Minute)
}

func indexThirdSlash(s string) int {
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			count++
			if count == 3 {
				return i
			}
		}
	}
	return -1
}
