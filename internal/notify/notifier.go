package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"access-verifier/internal/client"
	"access-verifier/internal/config"
	"access-verifier/internal/model"
	"access-verifier/internal/repository/clickhouse"
)

// Notifier delivers human-facing events. Routing is severity-based:
// info events are logged only, warning and critical events also go to
// the notification topic for the dashboard/alerting consumers. Every
// event is appended to the notification history regardless of route.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Unlocker publishes door-open commands toward the controller devices.
type Unlocker interface {
	Unlock(ctx context.Context, deviceID, attemptID, reason string, holdOpen bool) error
}

// KafkaNotifier implements both over the shared producer.
type KafkaNotifier struct {
	producer *client.KafkaProducer
	history  clickhouse.AuditSink
	topics   *config.KafkaConfig
	logger   *zap.Logger
}

var (
	_ Notifier = (*KafkaNotifier)(nil)
	_ Unlocker = (*KafkaNotifier)(nil)
)

func NewKafkaNotifier(producer *client.KafkaProducer, history clickhouse.AuditSink, cfg *config.Config, logger *zap.Logger) *KafkaNotifier {
	kafkaConfig := cfg.Kafka
	return &KafkaNotifier{
		producer: producer,
		history:  history,
		topics:   &kafkaConfig,
		logger:   logger,
	}
}

// Notify routes one event. Publish failures are returned so the caller
// can decide whether they are fatal; history failures are logged only,
// since the event already reached its primary channel.
func (n *KafkaNotifier) Notify(ctx context.Context, notification model.Notification) error {
	status := "logged"
	var publishErr error

	switch notification.Severity {
	case model.SeverityInfo:
		n.logger.Info("Notification",
			zap.String("event_type", string(notification.EventType)),
			zap.String("attempt_id", notification.AttemptID),
			zap.String("message", notification.Message),
		)
	case model.SeverityWarning, model.SeverityCritical:
		n.logger.Warn("Notification",
			zap.String("event_type", string(notification.EventType)),
			zap.String("severity", string(notification.Severity)),
			zap.String("attempt_id", notification.AttemptID),
			zap.String("message", notification.Message),
		)
		publishErr = n.publish(ctx, notification)
		if publishErr != nil {
			status = "publish_failed"
		} else {
			status = "published"
		}
	default:
		return fmt.Errorf("unknown notification severity %q", notification.Severity)
	}

	if n.history != nil {
		if err := n.history.RecordNotification(ctx, notification, status); err != nil {
			n.logger.Error("Failed to record notification history",
				zap.String("notification_id", notification.ID),
				zap.Error(err),
			)
		}
	}
	return publishErr
}

func (n *KafkaNotifier) publish(ctx context.Context, notification model.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	err = n.producer.ProduceMessage(ctx, n.topics.NotificationTopic,
		[]byte(notification.AttemptID), payload, map[string]string{
			"event_type": string(notification.EventType),
			"severity":   string(notification.Severity),
		})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Unlock publishes a door-open command keyed by device so commands for
// one door stay ordered.
func (n *KafkaNotifier) Unlock(ctx context.Context, deviceID, attemptID, reason string, holdOpen bool) error {
	cmd := model.NewUnlockCommand(deviceID, attemptID, reason, holdOpen)
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode unlock command: %w", err)
	}

	err = n.producer.ProduceMessage(ctx, n.topics.UnlockTopic,
		[]byte(deviceID), payload, nil)
	if err != nil {
		return fmt.Errorf("failed to publish unlock command: %w", err)
	}

	n.logger.Info("Unlock command published",
		zap.String("device_id", deviceID),
		zap.String("attempt_id", attemptID),
		zap.String("reason", reason),
		zap.Bool("hold_open", holdOpen),
	)
	return nil
}
