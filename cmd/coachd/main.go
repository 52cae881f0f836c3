// Call coach daemon - serves the session socket, scores representative turns
// and mirrors session events to Kafka.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ai-call-coach-service/internal/api/ws"
	"ai-call-coach-service/internal/app"
	"ai-call-coach-service/internal/config"
	"ai-call-coach-service/internal/events"
	"ai-call-coach-service/internal/observability"
	"ai-call-coach-service/internal/service/coach"
	"ai-call-coach-service/internal/service/persona"
	"ai-call-coach-service/internal/session"
	"ai-call-coach-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration load failed")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration invalid")
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Application setup failed")
	}
	application.Start()

	publisher := events.New(&events.Config{
		Enabled:    cfg.KafkaEnabled,
		Brokers:    cfg.KafkaBrokers,
		TopicTurns: cfg.KafkaTurnTopic,
		TopicEvals: cfg.KafkaEvalTopic,
		Principal:  cfg.KafkaPrincipal,
	})
	defer publisher.Close()

	manager := session.NewManager(session.Config{
		IdleTimeout:    cfg.TurnIdleTimeout,
		TurnTimeout:    cfg.CoachTurnTimeout,
		SummaryTimeout: cfg.CoachSummaryTimeout,
		WaitTimeout:    cfg.CoachWaitTimeout,
	}, session.Deps{
		Store:            store.New(cfg.SessionDir),
		Prompts:          application.Prompts,
		Publisher:        publisher,
		EvaluatorFactory: evaluatorFactory(cfg, application),
		PersonaFactory:   personaFactory(cfg),
	})

	var ready atomic.Bool
	obs := observability.NewServer(cfg.MetricsAddr, ready.Load)
	obs.Start()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           ws.NewHandler(manager).Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		application.Logger.Info().Str("addr", cfg.ListenAddr).Msg("Session socket listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()
	ready.Store(true)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ready.Store(false)
	application.Logger.Info().Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		application.Logger.Warn().Err(err).Msg("HTTP shutdown failed")
	}
	manager.Shutdown(30 * time.Second)
	if err := obs.Shutdown(ctx); err != nil {
		application.Logger.Warn().Err(err).Msg("Observability shutdown failed")
	}
	application.Shutdown()
}

func evaluatorFactory(cfg *config.Config, application *app.Application) func(coach.SessionContext) (coach.Evaluator, error) {
	return func(coach.SessionContext) (coach.Evaluator, error) {
		return coach.NewOpenAIEvaluator(coach.OpenAIConfig{
			APIKey:  cfg.CoachAPIKey,
			BaseURL: cfg.CoachBaseURL,
			Model:   cfg.CoachModel,
		}, application.Prompts)
	}
}

func personaFactory(cfg *config.Config) func(string, ...persona.Interceptor) (persona.Responder, error) {
	if !cfg.PersonaEnabled {
		return nil
	}
	return func(systemPrompt string, interceptors ...persona.Interceptor) (persona.Responder, error) {
		pc := persona.DefaultConfig()
		pc.APIKey = cfg.PersonaAPIKey
		pc.BaseURL = cfg.PersonaBaseURL
		pc.Model = cfg.PersonaModel
		return persona.NewInvoker(pc, systemPrompt, interceptors...)
	}
}
