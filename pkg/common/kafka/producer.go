package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fieldscope/collect/pkg/common/config"
	"github.com/fieldscope/collect/pkg/common/logger"
	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
	dlq    *kafka.Writer
}

func NewProducer(topic string) *Producer {
	cfg := config.Load()
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{writer: writer}
}

// WithDLQ adds a dead-letter topic the producer falls back to when the main
// topic rejects a write.
func (p *Producer) WithDLQ(topic string) *Producer {
	cfg := config.Load()
	p.dlq = &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return p
}

func (p *Producer) PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ID),
		Value: payload,
	})
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": eventType,
		}).Error("Failed to publish event")
		if p.dlq == nil {
			return err
		}
		if dlqErr := p.dlq.WriteMessages(ctx, kafka.Message{
			Key:   []byte(event.ID),
			Value: payload,
		}); dlqErr != nil {
			logger.Log.WithError(dlqErr).WithField("event_id", event.ID).Error("Failed to publish event to DLQ")
			return err
		}
		logger.Log.WithFields(map[string]interface{}{
			"event_id": event.ID,
			"topic":    p.dlq.Topic,
		}).Warn("Event routed to DLQ")
		return nil
	}

	logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": eventType,
		"topic":      p.writer.Topic,
	}).Info("Event published successfully")

	return nil
}

func (p *Producer) Close() error {
	if p.dlq != nil {
		p.dlq.Close()
	}
	return p.writer.Close()
}
