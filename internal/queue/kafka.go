package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"voxmail/internal/logging"
)

// KafkaQueue publishes and consumes jobs over a Kafka topic. The message key
// is the grant id, so kafka's hash partitioner keeps each tenant on one
// partition and consumer-group assignment keeps that partition on one
// consumer — the session serialization the ingestion pipeline relies on.
type KafkaQueue struct {
	brokers []string
	topic   string
	groupID string
	writer  *kafka.Writer
}

// NewKafkaQueue builds a queue over the given brokers and topic.
func NewKafkaQueue(connection, topic string) *KafkaQueue {
	brokers := strings.Split(connection, ",")
	return &KafkaQueue{
		brokers: brokers,
		topic:   topic,
		groupID: topic + ".workers",
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Publish enqueues one job keyed by its grant id.
func (q *KafkaQueue) Publish(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.GrantID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("publish job %s: %w", job.JobID, err)
	}
	return nil
}

// PublishDeadLetter writes the job and its final error to the DLQ topic.
func (q *KafkaQueue) PublishDeadLetter(ctx context.Context, job Job, lastErr string) error {
	payload, _ := json.Marshal(map[string]any{"job": job, "error": lastErr})
	w := &kafka.Writer{
		Addr:         kafka.TCP(q.brokers...),
		Topic:        dlqTopicFor(q.topic),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer w.Close()
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(job.GrantID), Value: payload}); err != nil {
		return fmt.Errorf("publish dead letter for %s: %w", job.JobID, err)
	}
	return nil
}

// Consume fetches jobs and hands them to the handler. Messages are committed
// after the handler returns, success or not; the handler owns retries.
func (q *KafkaQueue) Consume(ctx context.Context, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.brokers,
		GroupID:  q.groupID,
		Topic:    q.topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			logging.Log.WithError(err).Warn("closing kafka reader")
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logging.Log.WithError(err).Warn("kafka fetch error")
			t := time.NewTimer(500 * time.Millisecond)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
			continue
		}

		var job Job
		if err := json.Unmarshal(m.Value, &job); err != nil {
			logging.Log.WithError(err).WithField("offset", m.Offset).Error("malformed job payload, skipping")
		} else if err := handler(ctx, job); err != nil {
			logging.Log.WithError(err).WithField("job_id", job.JobID).WithField("grant_id", job.GrantID).Error("job handler failed")
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			logging.Log.WithError(err).WithField("offset", m.Offset).Warn("commit failed")
		}
	}
}

// Close releases the producer.
func (q *KafkaQueue) Close() error { return q.writer.Close() }

func dlqTopicFor(topic string) string {
	if strings.HasSuffix(topic, ".dlq") {
		return topic
	}
	return topic + ".dlq"
}
