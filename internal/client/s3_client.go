package client

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"access-verifier/internal/config"
	"access-verifier/internal/util"
)

// S3Client wraps the blob store used for verification image captures.
type S3Client struct {
	client *s3.Client
	config *config.S3Config
	logger *zap.Logger
}

func NewS3Client(cfg *config.Config, logger *zap.Logger) (*S3Client, error) {
	s3Config := cfg.S3

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s3Config.Region),
	}
	if s3Config.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3Config.AccessKey, s3Config.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3Config.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3Config.Endpoint)
			o.UsePathStyle = true
		}
	})

	util.Info("S3 client initialized",
		zap.String("bucket", s3Config.Bucket),
		zap.String("region", s3Config.Region),
	)

	return &S3Client{
		client: client,
		config: &s3Config,
		logger: logger,
	}, nil
}

// PutObject uploads a blob and returns its storage key.
func (s *S3Client) PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	return fmt.Sprintf("s3://%s/%s", s.config.Bucket, key), nil
}

// PresignGetURL returns a temporary download URL for the review UI.
func (s *S3Client) PresignGetURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presign := s3.NewPresignClient(s.client)
	req, err := presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return req.URL, nil
}
