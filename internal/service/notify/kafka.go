package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/models"
)

const DefaultTopic = "billpay.notifications"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes notifications for push and email workers
type Kafka struct {
	writer messageWriter
	logger logger.Logger
}

// NewKafkaWriter returns synchronous writer: Send must know if the broker took the message
func NewKafkaWriter(brokers []string, topic string, l logger.Logger) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // keep user notifications ordered
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			l.Warn(fmt.Sprintf(msg, args...), "component", "kafka")
		}),
	}
}

func NewKafka(writer messageWriter, l logger.Logger) *Kafka {
	return &Kafka{
		writer: writer,
		logger: l,
	}
}

type event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Channels  []string       `json:"channels"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (k *Kafka) Send(ctx context.Context, n models.Notification) error {
	value, err := json.Marshal(event{
		ID:        n.ID.String(),
		UserID:    n.UserID.String(),
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Channels:  n.Channels,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.UserID.String()),
		Value: value,
		Time:  n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	k.logger.Debug("Notification published", "user_id", n.UserID, "type", n.Type)
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
