package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-call-coach-service/internal/events"
	"ai-call-coach-service/internal/models"
	"ai-call-coach-service/internal/observability/logging"
	"ai-call-coach-service/internal/observability/metrics"
	"ai-call-coach-service/internal/prompts"
	"ai-call-coach-service/internal/service/coach"
	"ai-call-coach-service/internal/service/guardrail"
	"ai-call-coach-service/internal/service/persona"
	"ai-call-coach-service/internal/service/turn"
	"ai-call-coach-service/internal/store"
)

// ErrSessionExists is returned when a start event carries an ID that is
// already live.
var ErrSessionExists = errors.New("session already exists")

// ErrSessionNotFound is returned for events addressed to an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// Config holds per-session tunables.
type Config struct {
	IdleTimeout    time.Duration
	TurnTimeout    time.Duration
	SummaryTimeout time.Duration
	WaitTimeout    time.Duration
}

// Deps are the collaborators the manager wires into each session. The
// factories let tests substitute fakes for the model-backed clients.
type Deps struct {
	Store     *store.Store
	Prompts   *prompts.Repository
	Publisher *events.Publisher

	// EvaluatorFactory builds the coach evaluator lazily, on the session's
	// first representative turn.
	EvaluatorFactory func(sc coach.SessionContext) (coach.Evaluator, error)

	// PersonaFactory builds the customer persona for a session. A nil
	// factory runs sessions without a simulated customer (transcription
	// replay mode).
	PersonaFactory func(systemPrompt string, interceptors ...persona.Interceptor) (persona.Responder, error)
}

// Manager keeps the table of live sessions. All session state is explicit
// and keyed by session ID; nothing about a call lives in package globals.
type Manager struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Start creates a session for the given scenario and launches its event
// loop. An empty sessionID gets a generated one.
func (m *Manager) Start(sessionID, scenario string) (*Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	info, err := m.deps.Prompts.Scenario(scenario)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	patterns, err := m.deps.Prompts.Guardrail()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	sessionLog, err := m.deps.Store.Create(store.Meta{
		SessionID: sessionID,
		Scenario:  scenario,
		Persona:   info.Persona,
		StartedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	s := &Session{
		ID:        sessionID,
		Scenario:  scenario,
		logger:    logging.WithSession(sessionID, scenario).With().Str("component", "session").Logger(),
		cfg:       m.cfg,
		log:       sessionLog,
		publisher: m.deps.Publisher,
		eventsCh:  make(chan models.SessionEvent, 64),
		outbound:  make(chan models.PersonaUtterance, 8),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}

	s.aggregator = turn.NewAggregator(turn.Config{
		SessionID:   sessionID,
		IdleTimeout: m.cfg.IdleTimeout,
	})
	s.filter = guardrail.New(patterns, scenario)
	s.reminder = persona.NewReminderInterceptor()

	sc := coach.SessionContext{SessionID: sessionID, Scenario: scenario, Persona: info.Persona}
	s.orchestrator = coach.New(coach.Config{
		Session:        sc,
		TurnTimeout:    m.cfg.TurnTimeout,
		SummaryTimeout: m.cfg.SummaryTimeout,
		Factory:        func() (coach.Evaluator, error) { return m.deps.EvaluatorFactory(sc) },
		OnResult:       s.onEvaluation,
	})

	if m.deps.PersonaFactory != nil {
		systemPrompt, err := m.deps.Prompts.PersonaSystem(scenario)
		if err != nil {
			sessionLog.Close()
			return nil, fmt.Errorf("start session: %w", err)
		}
		s.invoker, err = m.deps.PersonaFactory(systemPrompt, s.reminder)
		if err != nil {
			sessionLog.Close()
			return nil, fmt.Errorf("start session: %w", err)
		}
	}

	m.mu.Lock()
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		sessionLog.Close()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()

	metrics.DefaultMetrics.SessionsTotal.Inc()
	metrics.DefaultMetrics.SessionsActive.Inc()
	s.logger.Info().
		Str("scenario", scenario).
		Str("persona", info.Persona).
		Str("guardrailVersion", s.filter.Version()).
		Msg("Session started")

	go func() {
		s.run()
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
	}()
	return s, nil
}

// Get returns the live session with the given ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown ends every live session and waits for their teardown, bounded by
// timeout.
func (m *Manager) Shutdown(timeout time.Duration) {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	deadline := time.After(timeout)
	for _, s := range live {
		select {
		case s.eventsCh <- models.SessionEvent{EventType: models.EventSessionEnd}:
		case <-s.done:
		case <-deadline:
			return
		}
	}
	for _, s := range live {
		select {
		case <-s.done:
		case <-deadline:
			return
		}
	}
}
