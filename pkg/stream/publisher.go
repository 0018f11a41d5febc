// Package stream publishes executed trades to Kafka.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
)

// TradeEvent is the Kafka message value, one per trade.
type TradeEvent struct {
	V     int             `json:"v"`
	Type  string          `json:"type"`
	Trade orderbook.Trade `json:"trade"`
}

const eventVersion = 1

type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func NewPublisher(brokers []string, topic string, logger *zap.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewPublisherWithProducer(producer, topic, logger), nil
}

// NewPublisherWithProducer wraps an existing producer, e.g. a mock.
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{producer: producer, topic: topic, logger: logger}
}

// PublishTrades sends trades in execution order, keyed by ticker so one
// book's trades stay on one partition.
func (p *Publisher) PublishTrades(ctx context.Context, trades []orderbook.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(trades))
	for _, t := range trades {
		data, err := json.Marshal(TradeEvent{V: eventVersion, Type: "trade", Trade: t})
		if err != nil {
			return fmt.Errorf("marshal trade %d: %w", t.Seq, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(t.Ticker),
			Value: sarama.ByteEncoder(data),
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			p.logger.Warn("kafka_partial_failure", zap.Int("failed", len(perrs)), zap.Int("sent", len(msgs)-len(perrs)))
		}
		return fmt.Errorf("publish %d trades: %w", len(msgs), err)
	}

	p.logger.Debug("trades_published",
		zap.String("topic", p.topic),
		zap.Int("count", len(msgs)),
		zap.Uint64("last_seq", trades[len(trades)-1].Seq))
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
