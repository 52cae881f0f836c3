// Package session owns the per-call state and event loop: it wires the turn
// aggregator, guardrail filter, coach orchestrator, persona invoker and
// session store together for one training call, and keeps an explicit table
// of live sessions keyed by session ID.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-call-coach-service/internal/events"
	"ai-call-coach-service/internal/models"
	"ai-call-coach-service/internal/observability/metrics"
	"ai-call-coach-service/internal/service/coach"
	"ai-call-coach-service/internal/service/guardrail"
	"ai-call-coach-service/internal/service/persona"
	"ai-call-coach-service/internal/service/turn"
	"ai-call-coach-service/internal/store"
)

// tickInterval drives the aggregator's idle sweep.
const tickInterval = 250 * time.Millisecond

// DefaultWaitTimeout bounds how long session teardown waits for in-flight
// turn evaluations before generating the summary without them.
const DefaultWaitTimeout = 12 * time.Second

// Session is the live state of one training call. All conversation state is
// owned by the session's event loop goroutine; external callers interact
// only through Deliver and Outbound.
type Session struct {
	ID       string
	Scenario string

	logger       zerolog.Logger
	cfg          Config
	aggregator   *turn.Aggregator
	filter       *guardrail.Filter
	orchestrator *coach.Orchestrator
	invoker      persona.Responder
	reminder     *persona.ReminderInterceptor
	log          *store.SessionLog
	publisher    *events.Publisher

	eventsCh  chan models.SessionEvent
	outbound  chan models.PersonaUtterance
	done      chan struct{}
	personaWG sync.WaitGroup
	startedAt time.Time

	// loop-owned state
	transcript   []models.Turn
	lastCustomer string
	fatal        bool
}

// Deliver enqueues one inbound event for the session loop. It fails once the
// session has ended.
func (s *Session) Deliver(ctx context.Context, ev models.SessionEvent) error {
	select {
	case <-s.done:
		return errors.New("session ended")
	default:
	}
	select {
	case s.eventsCh <- ev:
		return nil
	case <-s.done:
		return errors.New("session ended")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbound is the stream of persona utterances to push back to the voice
// client. It is closed when the session ends.
func (s *Session) Outbound() <-chan models.PersonaUtterance {
	return s.outbound
}

// Done is closed when the session loop has finished teardown.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// run is the session event loop. It is the only goroutine touching the
// aggregator and the transcript.
func (s *Session) run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer s.teardown()

	for {
		select {
		case ev := <-s.eventsCh:
			switch ev.EventType {
			case models.EventTranscription:
				s.handleTranscription(models.TranscriptionEvent{
					Speaker:   ev.Speaker,
					Text:      ev.Text,
					IsFinal:   ev.IsFinal,
					Timestamp: ev.Timestamp,
				})
			case models.EventGenerationComplete:
				if t := s.aggregator.CompleteGeneration(ev.Speaker, ev.Timestamp); t != nil {
					s.handleClosed(*t)
				}
			case models.EventSessionEnd:
				return
			default:
				s.logger.Warn().Str("eventType", ev.EventType).Msg("Dropping unknown event type")
			}
		case now := <-ticker.C:
			for _, t := range s.aggregator.Tick(now) {
				s.handleClosed(t)
			}
		}
		// a transcript that cannot be persisted makes the session worthless
		if s.fatal {
			return
		}
	}
}

func (s *Session) handleTranscription(ev models.TranscriptionEvent) {
	metrics.DefaultMetrics.FragmentsReceived.WithLabelValues(string(ev.Speaker)).Inc()
	if err := s.log.AppendInterim(ev); err != nil {
		metrics.DefaultMetrics.StoreAppendErrors.WithLabelValues("interims").Inc()
		s.logger.Warn().Err(err).Msg("Interim append failed")
	}
	closed, err := s.aggregator.Ingest(ev)
	if err != nil {
		metrics.DefaultMetrics.FragmentsDropped.WithLabelValues(dropReason(err)).Inc()
		return
	}
	if closed != nil {
		s.handleClosed(*closed)
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, turn.ErrUnknownSpeaker):
		return "unknown_speaker"
	case errors.Is(err, turn.ErrStaleTimestamp):
		return "stale_timestamp"
	default:
		return "other"
	}
}

// handleClosed processes one completed turn: persistence, mirroring,
// guardrail, coaching, and the persona's next line.
func (s *Session) handleClosed(t models.Turn) {
	metrics.DefaultMetrics.TurnsClosed.WithLabelValues(string(t.Speaker)).Inc()
	s.transcript = append(s.transcript, t)

	if err := s.log.AppendTurn(t); err != nil {
		metrics.DefaultMetrics.StoreAppendErrors.WithLabelValues("transcript").Inc()
		s.logger.Error().Err(err).Int("turnIndex", t.TurnIndex).Msg("Transcript append failed twice, aborting session")
		s.fatal = true
	}
	if err := s.publisher.PublishTurnClosed(context.Background(), events.TurnClosedEvent{
		EventType: "turn.closed",
		SessionID: s.ID,
		Scenario:  s.Scenario,
		Turn:      t,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		s.logger.Warn().Err(err).Int("turnIndex", t.TurnIndex).Msg("Turn mirror publish failed")
	}

	if t.Speaker == models.SpeakerCustomer {
		s.lastCustomer = t.Text
		return
	}

	s.checkGuardrail(t)

	s.orchestrator.DispatchTurn(coach.TurnRequest{
		TurnIndex:          t.TurnIndex,
		CustomerText:       s.lastCustomer,
		RepresentativeText: t.Text,
	})

	s.invokePersona(t)
}

func (s *Session) checkGuardrail(t models.Turn) {
	metrics.DefaultMetrics.GuardrailChecks.Inc()
	verdict := s.filter.Check(t)
	if verdict.Action != guardrail.ActionInjectReminder {
		return
	}
	metrics.DefaultMetrics.GuardrailTriggered.WithLabelValues(s.Scenario).Inc()
	s.logger.Info().
		Int("turnIndex", t.TurnIndex).
		Str("pattern", verdict.MatchedPattern).
		Msg("Off-topic turn, arming persona reminder")
	s.reminder.Arm(verdict.Reminder)
}

// invokePersona generates the customer's next line off the loop goroutine and
// pushes it to the voice client. A persona failure is logged and skipped; the
// session stays alive.
func (s *Session) invokePersona(t models.Turn) {
	if s.invoker == nil {
		return
	}
	s.personaWG.Add(1)
	go func() {
		defer s.personaWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		reply, err := s.invoker.Respond(ctx, t.Text)
		if err != nil {
			s.logger.Warn().Err(err).Int("turnIndex", t.TurnIndex).Msg("Persona reply failed")
			return
		}
		utterance := models.PersonaUtterance{
			EventType: models.EventPersonaUtterance,
			SessionID: s.ID,
			Text:      reply,
			Timestamp: time.Now().UnixMilli(),
		}
		select {
		case s.outbound <- utterance:
		case <-s.done:
		}
	}()
}

// teardown flushes trailing turns, waits briefly for in-flight evaluations,
// generates the summary, and finalizes the store.
func (s *Session) teardown() {
	for _, t := range s.aggregator.Flush() {
		// no persona reply for flushed turns; the call is over
		metrics.DefaultMetrics.TurnsClosed.WithLabelValues(string(t.Speaker)).Inc()
		s.transcript = append(s.transcript, t)
		if err := s.log.AppendTurn(t); err != nil {
			metrics.DefaultMetrics.StoreAppendErrors.WithLabelValues("transcript").Inc()
			s.logger.Error().Err(err).Int("turnIndex", t.TurnIndex).Msg("Transcript append failed twice, aborting session")
			s.fatal = true
		}
		if t.Speaker == models.SpeakerRepresentative {
			s.orchestrator.DispatchTurn(coach.TurnRequest{
				TurnIndex:          t.TurnIndex,
				CustomerText:       s.lastCustomer,
				RepresentativeText: t.Text,
			})
		} else {
			s.lastCustomer = t.Text
		}
	}

	s.orchestrator.Wait(s.cfg.WaitTimeout)
	if s.fatal {
		metrics.DefaultMetrics.SessionsFailed.Inc()
		s.logger.Error().Msg("Session aborted, skipping summary")
	} else {
		s.finalize()
	}

	if err := s.orchestrator.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Evaluator close failed")
	}
	if err := s.log.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Session log close failed")
	}

	metrics.DefaultMetrics.SessionsActive.Dec()
	metrics.DefaultMetrics.SessionDuration.Observe(time.Since(s.startedAt).Seconds())
	// done must close before outbound: persona goroutines select on done
	// while delivering a reply, and only once they have all returned is it
	// safe to close the utterance stream.
	close(s.done)
	s.personaWG.Wait()
	close(s.outbound)
	s.logger.Info().
		Int("turns", len(s.transcript)).
		Dur("duration", time.Since(s.startedAt)).
		Msg("Session ended")
}

func (s *Session) finalize() {
	summary, err := s.orchestrator.EvaluateSession(s.transcript)
	if err != nil {
		if errors.Is(err, coach.ErrNoEvaluations) {
			s.logger.Info().Msg("No representative turns, skipping summary")
			return
		}
		metrics.DefaultMetrics.SessionsFailed.Inc()
		s.logger.Warn().Err(err).Msg("No session summary generated")
		return
	}
	if err := s.log.Finalize(summary); err != nil {
		if errors.Is(err, store.ErrSessionFinalized) {
			s.logger.Warn().Msg("Session was already finalized, keeping stored summary")
			return
		}
		metrics.DefaultMetrics.SessionsFailed.Inc()
		s.logger.Error().Err(err).Msg("Summary write failed")
		return
	}
	metrics.DefaultMetrics.SessionsSuccess.Inc()
	s.logger.Info().
		Int("overallScore", summary.OverallScore).
		Ints("missingEvaluations", summary.MissingEvaluations).
		Msg("Session summary stored")
}

// onEvaluation files one evaluation outcome. Called from evaluation
// goroutines; the store serializes access internally. Evaluations may land
// after teardown begins or even after finalization, which the store permits.
func (s *Session) onEvaluation(rec *models.EvaluationRecord, failure *coach.EvaluationFailure) {
	ev := events.EvaluationCompletedEvent{
		EventType: "evaluation.completed",
		SessionID: s.ID,
		Scenario:  s.Scenario,
		Timestamp: time.Now().UnixMilli(),
	}
	if failure != nil {
		ev.TurnIndex = failure.TurnIndex
		ev.Failure = string(failure.Reason)
	} else {
		ev.TurnIndex = rec.TurnIndex
		ev.Record = rec
		if err := s.log.AppendEvaluation(rec.TurnIndex, *rec); err != nil {
			metrics.DefaultMetrics.StoreAppendErrors.WithLabelValues("evaluations").Inc()
			s.logger.Error().Err(err).Int("turnIndex", rec.TurnIndex).Msg("Evaluation append failed twice")
		}
	}
	if err := s.publisher.PublishEvaluationCompleted(context.Background(), ev); err != nil {
		s.logger.Warn().Err(err).Int("turnIndex", ev.TurnIndex).Msg("Evaluation mirror publish failed")
	}
}
