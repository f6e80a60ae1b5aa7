// Package publish announces finished runs to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/talgya/pricing-sim/internal/engine"
)

// Summary is the message published for every finished run.
type Summary struct {
	RunID           string  `json:"run_id"`
	Kind            string  `json:"kind"`
	Strategy        string  `json:"strategy"`
	Seed            int64   `json:"seed"`
	Revenue         float64 `json:"revenue"`
	Regret          float64 `json:"regret"`
	AvgRegret       float64 `json:"avg_regret"`
	NSold           int     `json:"n_sold"`
	SoldFraction    float64 `json:"sold_fraction"`
	AvgTimeToSale   float64 `json:"avg_time_to_sale"`
	HasSales        bool    `json:"has_sales"`
	EventsProcessed int     `json:"events_processed"`
	Timestamp       int64   `json:"timestamp"` // unix milliseconds
}

// NewSummary builds the message for a run result.
func NewSummary(runID, kind, strategy string, seed int64, r engine.Result) Summary {
	return Summary{
		RunID:           runID,
		Kind:            kind,
		Strategy:        strategy,
		Seed:            seed,
		Revenue:         r.Revenue,
		Regret:          r.Regret,
		AvgRegret:       r.AvgRegret,
		NSold:           r.NSold,
		SoldFraction:    r.SoldFraction,
		AvgTimeToSale:   r.AvgTimeToSale,
		HasSales:        r.HasSales,
		EventsProcessed: r.EventsProcessed,
		Timestamp:       time.Now().UnixMilli(),
	}
}

// Publisher delivers run summaries.
type Publisher interface {
	Publish(ctx context.Context, s Summary) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes summaries as JSON to a Kafka topic, keyed by run id.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher returns a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            5,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}
	slog.Info("kafka publisher created", "brokers", brokers, "topic", topic)
	return &KafkaPublisher{writer: w, topic: topic}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(s.RunID), Value: data})
	if err != nil {
		slog.Error("kafka publish failed", "topic", p.topic, "run", s.RunID, "error", err)
		return fmt.Errorf("publish run %s: %w", s.RunID, err)
	}
	slog.Debug("kafka message sent", "topic", p.topic, "run", s.RunID)
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes summaries to a structured logger.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish implements Publisher.
func (p LogPublisher) Publish(_ context.Context, s Summary) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("run finished",
		"run", s.RunID,
		"kind", s.Kind,
		"strategy", s.Strategy,
		"revenue", fmt.Sprintf("%.3f", s.Revenue),
		"regret", fmt.Sprintf("%.3f", s.Regret),
		"sold_fraction", fmt.Sprintf("%.3f", s.SoldFraction),
	)
	return nil
}

// Close implements Publisher.
func (LogPublisher) Close() error { return nil }

// Multi fans a summary out to several publishers and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, s Summary) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Publisher.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
