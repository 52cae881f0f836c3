package events

import (
	"context"
	"testing"

	"ai-call-coach-service/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerTurns != nil {
				t.Error("expected nil turns writer when disabled")
			}
			if p.writerEvals != nil {
				t.Error("expected nil evaluations writer when disabled")
			}
		})
	}
}

func TestNew_DefaultTopics(t *testing.T) {
	p := New(&Config{Enabled: false, Principal: "svc-call-coach"})

	if p.topicTurns != TopicTurnClosed {
		t.Errorf("expected default turns topic %q, got %q", TopicTurnClosed, p.topicTurns)
	}
	if p.topicEvals != TopicEvaluationCompleted {
		t.Errorf("expected default evals topic %q, got %q", TopicEvaluationCompleted, p.topicEvals)
	}
	if p.principal != "svc-call-coach" {
		t.Errorf("expected principal 'svc-call-coach', got %s", p.principal)
	}
}

func TestPublisher_PublishTurnClosed_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	ev := TurnClosedEvent{
		SessionID: "sess-1",
		Scenario:  "card",
		Turn:      models.Turn{TurnIndex: 0, Speaker: models.SpeakerCustomer, Text: "I lost my card"},
	}
	if err := p.PublishTurnClosed(context.Background(), ev); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishEvaluationCompleted_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	ev := EvaluationCompletedEvent{
		SessionID: "sess-1",
		Scenario:  "card",
		TurnIndex: 3,
		Failure:   "evaluator timeout",
	}
	if err := p.PublishEvaluationCompleted(context.Background(), ev); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}
