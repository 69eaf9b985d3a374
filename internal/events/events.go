// Package events publishes newly observed incoming payments.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"custody-service/internal/domain"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const TypeIncomingDetected = "incoming.detected"

// IncomingEvent is the message body published for each new payment.
type IncomingEvent struct {
	Type       string            `json:"type"`
	Tx         domain.IncomingTx `json:"tx"`
	ObservedAt time.Time         `json:"observedAt"`
}

type Publisher interface {
	PublishIncoming(ctx context.Context, txs ...domain.IncomingTx) error
	Close() error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) PublishIncoming(context.Context, ...domain.IncomingTx) error { return nil }
func (Nop) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
	now    func() time.Time
}

// NewKafkaPublisher builds a batching writer for topic.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
	}
	logger.Info("kafka publisher initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic))
	return newKafkaPublisher(writer, logger)
}

func newKafkaPublisher(w messageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger, now: time.Now}
}

// PublishIncoming keys messages by chain and address so one wallet's
// payments stay ordered within a partition.
func (p *KafkaPublisher) PublishIncoming(ctx context.Context, txs ...domain.IncomingTx) error {
	if len(txs) == 0 {
		return nil
	}
	now := p.now().UTC()
	msgs := make([]kafka.Message, 0, len(txs))
	for _, tx := range txs {
		data, err := json.Marshal(IncomingEvent{Type: TypeIncomingDetected, Tx: tx, ObservedAt: now})
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(string(tx.Chain) + ":" + domain.NormalizeAddress(tx.Chain, tx.Address)),
			Value: data,
			Time:  now,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("failed to publish incoming events",
			zap.Error(err),
			zap.Int("count", len(msgs)))
		return fmt.Errorf("failed to publish incoming events: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
