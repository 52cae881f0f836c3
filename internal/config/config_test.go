package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"LISTEN_ADDR", "METRICS_ADDR", "LOG_LEVEL", "LOG_PRETTY",
		"PROMPTS_PATH", "SESSION_DIR", "TURN_IDLE_TIMEOUT",
		"COACH_API_KEY", "COACH_BASE_URL", "COACH_MODEL",
		"COACH_TURN_TIMEOUT", "COACH_SUMMARY_TIMEOUT", "COACH_WAIT_TIMEOUT",
		"PERSONA_API_KEY", "PERSONA_BASE_URL", "PERSONA_MODEL", "PERSONA_ENABLED",
		"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TURN_TOPIC",
		"KAFKA_EVAL_TOPIC", "KAFKA_PRINCIPAL",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr ':8080', got %s", cfg.ListenAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected default metrics addr ':9090', got %s", cfg.MetricsAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.PromptsPath != "config/prompts.json" {
		t.Errorf("expected default prompts path, got %s", cfg.PromptsPath)
	}
	if cfg.SessionDir != "sessions" {
		t.Errorf("expected default session dir 'sessions', got %s", cfg.SessionDir)
	}
	if cfg.TurnIdleTimeout != 2*time.Second {
		t.Errorf("expected default idle timeout 2s, got %v", cfg.TurnIdleTimeout)
	}
	if cfg.CoachTurnTimeout != 10*time.Second {
		t.Errorf("expected default turn timeout 10s, got %v", cfg.CoachTurnTimeout)
	}
	if cfg.CoachSummaryTimeout != 15*time.Second {
		t.Errorf("expected default summary timeout 15s, got %v", cfg.CoachSummaryTimeout)
	}
	if !cfg.PersonaEnabled {
		t.Error("expected persona enabled by default")
	}
	if cfg.KafkaEnabled {
		t.Error("expected Kafka disabled by default")
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Errorf("expected default broker localhost:9092, got %v", cfg.KafkaBrokers)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("TURN_IDLE_TIMEOUT", "500ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("PERSONA_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("expected listen addr ':9999', got %s", cfg.ListenAddr)
	}
	if cfg.TurnIdleTimeout != 500*time.Millisecond {
		t.Errorf("expected idle timeout 500ms, got %v", cfg.TurnIdleTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", cfg.KafkaBrokers)
	}
	if cfg.PersonaEnabled {
		t.Error("expected persona disabled")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{PersonaEnabled: true}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without coach API key")
	}
	cfg.CoachAPIKey = "sk-test"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error with persona enabled and no persona API key")
	}
	cfg.PersonaAPIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	cfg = &Config{CoachAPIKey: "sk-test", PersonaEnabled: false}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error with persona disabled: %v", err)
	}
}
