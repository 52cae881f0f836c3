// Package events mirrors session milestones onto Kafka topics for live
// consumers such as the feedback viewer. The mirror is best-effort and sits
// off the conversational critical path.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-call-coach-service/internal/models"
	"ai-call-coach-service/internal/observability/metrics"
)

// Default topics.
const (
	TopicTurnClosed          = "coach.turn.closed"
	TopicEvaluationCompleted = "coach.evaluation.completed"
)

// TurnClosedEvent is the payload published when the aggregator closes a turn.
type TurnClosedEvent struct {
	EventType string      `json:"eventType"`
	SessionID string      `json:"sessionId"`
	Scenario  string      `json:"scenario"`
	Turn      models.Turn `json:"turn"`
	Timestamp int64       `json:"timestamp"`
}

// EvaluationCompletedEvent is the payload published when a turn evaluation
// lands (or fails).
type EvaluationCompletedEvent struct {
	EventType string                   `json:"eventType"`
	SessionID string                   `json:"sessionId"`
	Scenario  string                   `json:"scenario"`
	TurnIndex int                      `json:"turnIndex"`
	Record    *models.EvaluationRecord `json:"record,omitempty"`
	Failure   string                   `json:"failure,omitempty"`
	Timestamp int64                    `json:"timestamp"`
}

// Publisher publishes session events to separate Kafka topics.
type Publisher struct {
	writerTurns *kafka.Writer
	writerEvals *kafka.Writer
	principal   string
	topicTurns  string
	topicEvals  string
	enabled     bool
	metrics     *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers    []string
	TopicTurns string
	TopicEvals string
	Principal  string
	Enabled    bool
}

// New creates a Kafka event publisher with separate topics for closed turns
// and completed evaluations. With Kafka disabled the publisher logs only.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{enabled: false, metrics: m}
	}

	if cfg.TopicTurns == "" {
		cfg.TopicTurns = TopicTurnClosed
	}
	if cfg.TopicEvals == "" {
		cfg.TopicEvals = TopicEvaluationCompleted
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:  cfg.Principal,
			topicTurns: cfg.TopicTurns,
			topicEvals: cfg.TopicEvals,
			enabled:    false,
			metrics:    m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerTurns := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicTurns,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	writerEvals := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicEvals,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTurns", cfg.TopicTurns).
		Str("topicEvals", cfg.TopicEvals).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTurns: writerTurns,
		writerEvals: writerEvals,
		principal:   cfg.Principal,
		topicTurns:  cfg.TopicTurns,
		topicEvals:  cfg.TopicEvals,
		enabled:     true,
		metrics:     m,
	}
}

// PublishTurnClosed publishes a closed turn to the turns topic, keyed by
// session ID.
func (p *Publisher) PublishTurnClosed(ctx context.Context, ev TurnClosedEvent) error {
	ev.EventType = TopicTurnClosed
	return p.publish(ctx, p.writerTurns, p.topicTurns, "turn", ev.SessionID, ev)
}

// PublishEvaluationCompleted publishes an evaluation outcome to the
// evaluations topic, keyed by session ID.
func (p *Publisher) PublishEvaluationCompleted(ctx context.Context, ev EvaluationCompletedEvent) error {
	ev.EventType = TopicEvaluationCompleted
	return p.publish(ctx, p.writerEvals, p.topicEvals, "evaluation", ev.SessionID, ev)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log.
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTurns != nil {
		if e := p.writerTurns.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing turns writer")
			err = e
		}
	}
	if p.writerEvals != nil {
		if e := p.writerEvals.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing evaluations writer")
			err = e
		}
	}
	return err
}
