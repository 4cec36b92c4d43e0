package ingress

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"access-verifier/internal/client"
	"access-verifier/internal/config"
	"access-verifier/internal/embedding"
	"access-verifier/internal/guard"
	"access-verifier/internal/model"
	"access-verifier/internal/notify"
	"access-verifier/internal/repository/scylla"
	"access-verifier/internal/session"
	"access-verifier/internal/storage"
	"access-verifier/internal/util"
	"access-verifier/internal/worker"
)

// EvidenceConsumer pulls device evidence off the bus and feeds the
// session store. All slow work (directory lookups, embedding
// extraction, image upload) happens here, before the store's mutex is
// touched.
type EvidenceConsumer struct {
	consumer  *client.KafkaConsumer
	store     *session.Store
	guard     *guard.DuplicateGuard
	directory scylla.EmployeeDirectory
	extractor embedding.Extractor
	images    storage.ImageStore
	logger    *zap.Logger
}

func NewEvidenceConsumer(
	consumer *client.KafkaConsumer,
	store *session.Store,
	g *guard.DuplicateGuard,
	directory scylla.EmployeeDirectory,
	extractor embedding.Extractor,
	images storage.ImageStore,
	logger *zap.Logger,
) *EvidenceConsumer {
	return &EvidenceConsumer{
		consumer:  consumer,
		store:     store,
		guard:     g,
		directory: directory,
		extractor: extractor,
		images:    images,
		logger:    logger,
	}
}

// Run consumes until the context is cancelled. A malformed message is
// logged and dropped; it must never take the consumer down.
func (c *EvidenceConsumer) Run(ctx context.Context) error {
	c.logger.Info("Evidence consumer started")
	for {
		msg, err := c.consumer.ConsumeMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("Evidence consumer stopping")
				return ctx.Err()
			}
			c.logger.Error("Failed to read evidence message", zap.Error(err))
			continue
		}
		c.handleMessage(ctx, msg.Value)
	}
}

func (c *EvidenceConsumer) handleMessage(ctx context.Context, payload []byte) {
	evidence, err := model.ParseEvidenceMessage(payload)
	if err != nil {
		c.logger.Warn("Dropping malformed evidence message", zap.Error(err))
		return
	}

	if c.guard.WasDecided(ctx, evidence.SessionID) {
		c.logger.Info("Dropping evidence for already-decided attempt",
			zap.String("attempt_id", evidence.SessionID),
		)
		return
	}

	if evidence.RFIDDetected {
		c.applyRFID(ctx, evidence)
	}
	if evidence.HasImageEvidence() {
		c.applyImage(ctx, evidence)
	}
}

func (c *EvidenceConsumer) applyRFID(ctx context.Context, evidence *model.EvidenceMessage) {
	tag := util.SanitizeTag(evidence.RFIDTag)
	if tag == "" || util.ContainsSuspicious(tag) {
		c.logger.Warn("Dropping RFID evidence with unusable tag",
			zap.String("attempt_id", evidence.SessionID),
		)
		return
	}

	employee, err := c.directory.FindByRFID(ctx, tag)
	if err != nil {
		// Lookup failure is not "unknown tag": apply with no match so
		// the attempt still completes, and let review sort it out.
		c.logger.Error("Employee directory lookup failed",
			zap.String("attempt_id", evidence.SessionID),
			zap.Error(err),
		)
	}
	if employee != nil && !employee.Active {
		c.logger.Warn("RFID tag belongs to deactivated employee",
			zap.String("attempt_id", evidence.SessionID),
			zap.String("employee_id", employee.ID),
		)
		employee = nil
	}

	c.store.ApplyRFIDEvidence(evidence.SessionID, evidence.DeviceID, tag, employee)
}

func (c *EvidenceConsumer) applyImage(ctx context.Context, evidence *model.EvidenceMessage) {
	var (
		vector     []float32
		storageRef string
	)

	if evidence.Image != "" {
		image, err := base64.StdEncoding.DecodeString(evidence.Image)
		if err != nil {
			c.logger.Warn("Dropping image evidence with invalid encoding",
				zap.String("attempt_id", evidence.SessionID),
				zap.Error(err),
			)
			return
		}

		vector, err = c.extractor.ExtractEmbedding(ctx, image)
		if err != nil {
			// Extraction already retried transient failures. The image
			// modality still reports in, with no usable face.
			c.logger.Error("Embedding extraction failed",
				zap.String("attempt_id", evidence.SessionID),
				zap.Error(err),
			)
			vector = nil
		}

		if c.images != nil {
			storageRef, err = c.images.SaveVerificationImage(ctx, evidence.SessionID, image)
			if err != nil {
				c.logger.Warn("Verification image upload failed",
					zap.String("attempt_id", evidence.SessionID),
					zap.Error(err),
				)
				storageRef = ""
			}
		}
	}

	c.store.ApplyImageEvidence(evidence.SessionID, evidence.DeviceID, vector, storageRef)
}

// EmergencyConsumer handles override messages: broadcast a hold-open
// unlock, raise a critical notification, and pause the decision worker
// for the hold window.
type EmergencyConsumer struct {
	consumer *client.KafkaConsumer
	unlocker notify.Unlocker
	notifier notify.Notifier
	worker   *worker.Worker
	hold     config.VerificationConfig
	logger   *zap.Logger
}

func NewEmergencyConsumer(
	consumer *client.KafkaConsumer,
	unlocker notify.Unlocker,
	notifier notify.Notifier,
	w *worker.Worker,
	policy config.VerificationConfig,
	logger *zap.Logger,
) *EmergencyConsumer {
	return &EmergencyConsumer{
		consumer: consumer,
		unlocker: unlocker,
		notifier: notifier,
		worker:   w,
		hold:     policy,
		logger:   logger,
	}
}

func (c *EmergencyConsumer) Run(ctx context.Context) error {
	c.logger.Info("Emergency consumer started")
	for {
		msg, err := c.consumer.ConsumeMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("Emergency consumer stopping")
				return ctx.Err()
			}
			c.logger.Error("Failed to read emergency message", zap.Error(err))
			continue
		}
		c.handleEmergency(ctx, msg.Value)
	}
}

func (c *EmergencyConsumer) handleEmergency(ctx context.Context, payload []byte) {
	var emergency model.EmergencyMessage
	if err := json.Unmarshal(payload, &emergency); err != nil {
		c.logger.Warn("Dropping malformed emergency message", zap.Error(err))
		return
	}

	c.logger.Warn("Emergency override received", zap.String("source", emergency.Source))

	if err := c.unlocker.Unlock(ctx, "ALL", "", "emergency_override", true); err != nil {
		c.logger.Error("Failed to publish emergency unlock", zap.Error(err))
	}

	c.worker.Pause(c.hold.EmergencyHold)

	n := model.NewNotification(model.NotifyEmergencyOverride, model.SeverityCritical, "",
		fmt.Sprintf("Emergency override from %s, doors held open", emergency.Source))
	n.AdditionalData = map[string]interface{}{
		"source":    emergency.Source,
		"hold":      c.hold.EmergencyHold.String(),
		"issued_at": emergency.Timestamp,
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.Error("Failed to deliver emergency notification", zap.Error(err))
	}
}
