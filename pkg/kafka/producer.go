// Package kafka publishes retry policy change notifications so downstream
// workers can pick up new schedules without polling the database.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/tansy/pkg/metrics"
	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers     []string
	PolicyTopic string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, policyTopic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers:     brokerList,
		PolicyTopic: policyTopic,
	}
}

// PolicyChangeMessage is the wire format for a policy change notification.
type PolicyChangeMessage struct {
	JobType   models.JobType             `json:"job_type"`
	Action    models.PolicyAction        `json:"action"`
	Before    models.RetryPolicySnapshot `json:"before"`
	After     models.RetryPolicySnapshot `json:"after"`
	ActorID   string                     `json:"actor_id,omitempty"`
	Timestamp time.Time                  `json:"timestamp"`

	// Tracing
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// Producer handles producing policy change messages to Kafka
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.PolicyTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		// Without this, a first publish may fail with "Unknown Topic Or Partition".
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.PolicyTopic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishPolicyChange publishes a policy change notification to Kafka. Messages
// are keyed by job type so changes to one policy stay ordered per partition.
func (p *Producer) PublishPolicyChange(ctx context.Context, msg *PolicyChangeMessage) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishPolicyChange")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("job_type", string(msg.JobType)),
		attribute.String("action", string(msg.Action)),
	)

	msg.TraceID = tracing.GetTraceID(ctx)
	msg.SpanID = tracing.GetSpanID(ctx)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal policy change message: %w", err)
	}

	headers := []kafka.Header{
		{Key: "job_type", Value: []byte(msg.JobType)},
		{Key: "action", Value: []byte(msg.Action)},
	}

	// Add W3C trace context headers for distributed tracing
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.JobType),
		Value:   data,
		Headers: headers,
	})
	duration := time.Since(start)

	if err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", duration.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", p.topic)
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "ok", duration.Seconds())
	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Published policy change to Kafka: job_type=%s action=%s trace=%s",
		msg.JobType, msg.Action, msg.TraceID)

	return nil
}
