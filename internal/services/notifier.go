package services

//go:generate mockgen -source=notifier.go -destination=notifier_mock.go -package=services

import (
	"context"
	"encoding/json"

	"github.com/sbilibin2017/gw-deposit-settler/internal/logger"
	"github.com/sbilibin2017/gw-deposit-settler/internal/models"
	"github.com/segmentio/kafka-go"
)

// KafkaWriter defines a Kafka writer abstraction.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error // Writes messages to Kafka
	Close() error                                                   // Closes the Kafka writer
}

// NotificationService publishes settlement events to the notifications topic.
type NotificationService struct {
	writer KafkaWriter
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(writer KafkaWriter) *NotificationService {
	return &NotificationService{writer: writer}
}

// Notify publishes one event keyed by the account, so events of an account keep their order.
func (s *NotificationService) Notify(ctx context.Context, event models.DepositSettled) error {
	value, err := json.Marshal(event)
	if err != nil {
		logger.Log.Errorw("failed to marshal settlement event", "email", event.Email, "error", err)
		return err
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Email),
		Value: value,
	})
	if err != nil {
		logger.Log.Errorw("failed to publish settlement event", "email", event.Email, "error", err)
		return err
	}

	logger.Log.Infow("settlement event published", "email", event.Email, "balance", event.Balance)
	return nil
}
