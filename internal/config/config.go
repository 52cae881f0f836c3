// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	// HTTP / WebSocket
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	// Prompt library
	PromptsPath string `env:"PROMPTS_PATH" envDefault:"config/prompts.json"`

	// Session store
	SessionDir string `env:"SESSION_DIR" envDefault:"sessions"`

	// Turn aggregation
	TurnIdleTimeout time.Duration `env:"TURN_IDLE_TIMEOUT" envDefault:"2s"`

	// Coach evaluator
	CoachAPIKey         string        `env:"COACH_API_KEY"`
	CoachBaseURL        string        `env:"COACH_BASE_URL"`
	CoachModel          string        `env:"COACH_MODEL" envDefault:"gpt-4o-mini"`
	CoachTurnTimeout    time.Duration `env:"COACH_TURN_TIMEOUT" envDefault:"10s"`
	CoachSummaryTimeout time.Duration `env:"COACH_SUMMARY_TIMEOUT" envDefault:"15s"`
	CoachWaitTimeout    time.Duration `env:"COACH_WAIT_TIMEOUT" envDefault:"12s"`

	// Customer persona
	PersonaAPIKey  string `env:"PERSONA_API_KEY"`
	PersonaBaseURL string `env:"PERSONA_BASE_URL"`
	PersonaModel   string `env:"PERSONA_MODEL" envDefault:"gpt-4o-mini"`
	PersonaEnabled bool   `env:"PERSONA_ENABLED" envDefault:"true"`

	// Kafka mirroring (optional)
	KafkaEnabled   bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers   []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTurnTopic string   `env:"KAFKA_TURN_TOPIC" envDefault:"coach.turn.closed"`
	KafkaEvalTopic string   `env:"KAFKA_EVAL_TOPIC" envDefault:"coach.evaluation.completed"`
	KafkaPrincipal string   `env:"KAFKA_PRINCIPAL" envDefault:"call-coach"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.CoachAPIKey == "" {
		return fmt.Errorf("COACH_API_KEY is required")
	}
	if c.PersonaEnabled && c.PersonaAPIKey == "" {
		return fmt.Errorf("PERSONA_API_KEY is required when the persona is enabled")
	}
	return nil
}
