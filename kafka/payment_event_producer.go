package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"payflexi-gateway/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PaymentEventProducer fans payment lifecycle events out to the platform
// event bus. Messages are keyed by order id so every event for one order
// lands on the same partition in order.
type PaymentEventProducer struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

func NewPaymentEventProducer(brokers []string, topic string, logger *zap.Logger) *PaymentEventProducer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	logger.Info("Kafka producer initialized",
		zap.String("topic", topic),
		zap.Strings("brokers", brokers),
	)
	return &PaymentEventProducer{writer: w, topic: topic, logger: logger}
}

func (p *PaymentEventProducer) Publish(ctx context.Context, event models.PaymentBusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(event.OrderID), 10)),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish payment event",
			zap.String("event_type", event.Type),
			zap.Uint("order_id", event.OrderID),
			zap.Error(err),
		)
		return err
	}

	p.logger.Info("Published payment event",
		zap.String("event_type", event.Type),
		zap.Uint("order_id", event.OrderID),
		zap.String("reference", event.Reference),
	)
	return nil
}

func (p *PaymentEventProducer) Close() {
	_ = p.writer.Close()
	p.logger.Info("Kafka producer closed")
}
