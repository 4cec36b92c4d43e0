package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"access-verifier/internal/config"
)

// Extractor turns a captured image into a face embedding vector.
// A nil vector with a nil error means the image contained no usable
// face; that is a policy outcome, not a transport failure.
type Extractor interface {
	ExtractEmbedding(ctx context.Context, image []byte) ([]float32, error)
}

// Client calls the external face service over HTTP with bounded
// exponential retries for transient failures.
type Client struct {
	httpClient *http.Client
	config     *config.FaceServiceConfig
	logger     *zap.Logger
}

var _ Extractor = (*Client)(nil)

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	fsConfig := cfg.FaceService
	return &Client{
		httpClient: &http.Client{Timeout: fsConfig.Timeout},
		config:     &fsConfig,
		logger:     logger,
	}
}

type embedRequest struct {
	Image string `json:"image"`
}

type embedResponse struct {
	FaceDetected bool      `json:"face_detected"`
	Embedding    []float32 `json:"embedding"`
	Error        string    `json:"error,omitempty"`
}

// ExtractEmbedding posts the image to the face service. Connection
// errors and 5xx responses are retried; a clean "no face" response is
// returned as (nil, nil).
func (c *Client) ExtractEmbedding(ctx context.Context, image []byte) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{
		Image: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed request: %w", err)
	}

	backoff := retry.NewExponential(c.config.Backoff)
	backoff = retry.WithMaxRetries(uint64(c.config.MaxRetries), backoff)

	var result embedResponse
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.config.URL+"/embed", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Face service request failed, will retry", zap.Error(err))
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to read embed response: %w", err))
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			c.logger.Warn("Face service returned server error, will retry",
				zap.Int("status", resp.StatusCode))
			return retry.RetryableError(fmt.Errorf("face service returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("face service returned %d: %s", resp.StatusCode, string(body))
		}

		result = embedResponse{}
		if err := json.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("failed to decode embed response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding extraction failed: %w", err)
	}

	if !result.FaceDetected || len(result.Embedding) == 0 {
		c.logger.Debug("No face detected in image", zap.Int("image_bytes", len(image)))
		return nil, nil
	}

	return result.Embedding, nil
}

// HealthCheck probes the face service status endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("face service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("face service health returned %d", resp.StatusCode)
	}
	return nil
}
