// Package app holds process-wide application state and startup wiring.
package app

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-call-coach-service/internal/config"
	"ai-call-coach-service/internal/observability/logging"
	"ai-call-coach-service/internal/prompts"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Prompts     *prompts.Repository
}

// New constructs an Application from the provided configuration and loads
// the prompt library.
func New(cfg *config.Config) (*Application, error) {
	format := "json"
	if cfg.LogPretty {
		format = "console"
	}
	logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     format,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg: cfg,
		Logger: log.With().
			Str("service", "ai-call-coach-service").
			Str("component", "application").
			Logger(),
	}

	repo, err := prompts.Load(cfg.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("load prompt library: %w", err)
	}
	a.Prompts = repo

	a.Logger.Info().
		Str("promptsPath", cfg.PromptsPath).
		Msg("Call coach service application created")
	return a, nil
}

// Start performs startup work before serving traffic.
func (a *Application) Start() {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("listenAddr", a.Cfg.ListenAddr).
		Bool("kafkaEnabled", a.Cfg.KafkaEnabled).
		Bool("personaEnabled", a.Cfg.PersonaEnabled).
		Msg("Call coach service starting")
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	a.Logger.Info().
		Dur("uptime", time.Since(a.StartupTime)).
		Msg("Call coach service shutting down")
}
