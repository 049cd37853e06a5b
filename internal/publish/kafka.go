// Package publish emits characterization results to downstream consumers over Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/service"
)

// Event types carried in the event-type header.
const (
	EventRowCharacterized = "characterization.row"
	EventRunCompleted     = "characterization.completed"
)

// Source identifies this engine in published events.
const Source = "bc-pathway-engine"

// Publisher emits the rows of a finished run.
type Publisher interface {
	Publish(ctx context.Context, res *service.Result) error
	Close() error
}

// Event is the JSON value of every published message.
type Event struct {
	ID        string                          `json:"id"`
	Type      string                          `json:"type"`
	Source    string                          `json:"source"`
	RunID     string                          `json:"run_id"`
	Range     domain.DateRange                `json:"range"`
	Row       *domain.PatientCharacterization `json:"row,omitempty"`
	Rows      int                             `json:"rows,omitempty"`
	Failures  []string                        `json:"failures,omitempty"`
	Timestamp time.Time                       `json:"timestamp"`
}

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per row, keyed by patient, then a completion event
// keyed by run id.
type KafkaPublisher struct {
	writer    messageWriter
	topic     string
	batchSize int
	logger    *logrus.Logger
}

// NewKafkaPublisher creates a publisher for the configured brokers and topic.
func NewKafkaPublisher(cfg domain.KafkaConfig, logger *logrus.Logger) (*KafkaPublisher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    batchSizeOrDefault(cfg.BatchSize),
		BatchTimeout: batchTimeout,
	}
	return newKafkaPublisher(writer, cfg.Topic, cfg.BatchSize, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, batchSize int, logger *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:    w,
		topic:     topic,
		batchSize: batchSizeOrDefault(batchSize),
		logger:    logger,
	}
}

func batchSizeOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

// Publish writes the run's rows in batches followed by the completion event.
func (p *KafkaPublisher) Publish(ctx context.Context, res *service.Result) error {
	now := time.Now().UTC()
	msgs := make([]kafka.Message, 0, len(res.Rows)+1)

	for i := range res.Rows {
		row := res.Rows[i]
		msg, err := p.message(row.Key.String(), Event{
			ID:        uuid.New().String(),
			Type:      EventRowCharacterized,
			Source:    Source,
			RunID:     res.RunID,
			Range:     res.Range,
			Row:       &row,
			Timestamp: now,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	failures := make([]string, 0, len(res.Failures))
	for col := range res.Failures {
		failures = append(failures, col)
	}
	sort.Strings(failures)
	done, err := p.message(res.RunID, Event{
		ID:        uuid.New().String(),
		Type:      EventRunCompleted,
		Source:    Source,
		RunID:     res.RunID,
		Range:     res.Range,
		Rows:      len(res.Rows),
		Failures:  failures,
		Timestamp: now,
	})
	if err != nil {
		return err
	}
	msgs = append(msgs, done)

	for start := 0; start < len(msgs); start += p.batchSize {
		end := start + p.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		if err := p.writer.WriteMessages(ctx, msgs[start:end]...); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"run_id":  res.RunID,
				"topic":   p.topic,
				"written": start,
			}).Error("Failed to publish characterization")
			return fmt.Errorf("failed to publish run %s: %w", res.RunID, err)
		}
	}

	p.logger.WithFields(logrus.Fields{
		"run_id":   res.RunID,
		"topic":    p.topic,
		"messages": len(msgs),
	}).Info("Characterization published")
	return nil
}

func (p *KafkaPublisher) message(key string, event Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "run-id", Value: []byte(event.RunID)},
			{Key: "source", Value: []byte(Source)},
		},
	}, nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards runs. It is used when no brokers are configured.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, *service.Result) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() error { return nil }

// New returns a Kafka publisher when brokers are configured and a no-op one otherwise.
func New(cfg domain.KafkaConfig, logger *logrus.Logger) (Publisher, error) {
	if !cfg.Enabled() {
		return NoopPublisher{}, nil
	}
	return NewKafkaPublisher(cfg, logger)
}
