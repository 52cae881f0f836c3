package coach

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-call-coach-service/internal/models"
	"ai-call-coach-service/internal/observability/metrics"
)

// Default evaluator deadlines. A turn evaluation past its deadline is
// abandoned; the conversation never waits on it.
const (
	DefaultTurnTimeout    = 10 * time.Second
	DefaultSummaryTimeout = 15 * time.Second
)

// ErrNoEvaluations is returned by EvaluateSession when no representative
// turn was ever dispatched, so the evaluator never started and there is
// nothing to summarize.
var ErrNoEvaluations = errors.New("no representative turns were evaluated")

// ResultFunc receives the outcome of one asynchronous turn evaluation.
// Exactly one of rec or failure is non-nil.
type ResultFunc func(rec *models.EvaluationRecord, failure *EvaluationFailure)

// Config configures the orchestrator for one session.
type Config struct {
	Session        SessionContext
	TurnTimeout    time.Duration
	SummaryTimeout time.Duration

	// Factory builds the evaluator on first dispatch. Sessions where the
	// representative never speaks never pay the evaluator startup cost.
	Factory func() (Evaluator, error)

	// OnResult is called from the evaluation goroutine when a turn
	// evaluation resolves.
	OnResult ResultFunc
}

// turnState tracks one dispatched turn evaluation.
type turnState struct {
	done    bool
	failure *EvaluationFailure
}

// Orchestrator debounces, dispatches, and tracks turn evaluations for one
// session, then produces the end-of-session summary.
type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	evaluator Evaluator
	initErr   error
	started   bool
	turns     map[int]*turnState

	wg sync.WaitGroup
}

// New creates an orchestrator. The evaluator is not created until the first
// turn is dispatched.
func New(cfg Config) *Orchestrator {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = DefaultSummaryTimeout
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: log.With().Str("component", "coach").Str("sessionId", cfg.Session.SessionID).Logger(),
		turns:  make(map[int]*turnState),
	}
}

// DispatchTurn submits a turn pair for evaluation. The call returns
// immediately; the evaluation runs in a goroutine and reports through
// OnResult. A turn index already dispatched is suppressed, so retried
// deliveries cause at most one evaluator invocation per turn. Returns false
// when the dispatch was suppressed.
func (o *Orchestrator) DispatchTurn(req TurnRequest) bool {
	o.mu.Lock()
	if _, seen := o.turns[req.TurnIndex]; seen {
		o.mu.Unlock()
		metrics.DefaultMetrics.EvaluationsDebounced.Inc()
		o.logger.Debug().Int("turnIndex", req.TurnIndex).Msg("Duplicate evaluation request suppressed")
		return false
	}
	o.turns[req.TurnIndex] = &turnState{}

	ev, err := o.evaluatorLocked()
	o.mu.Unlock()

	if err != nil {
		o.resolve(req.TurnIndex, nil, &EvaluationFailure{
			TurnIndex: req.TurnIndex,
			Reason:    ReasonUnavailable,
			Err:       err,
		})
		return true
	}

	metrics.DefaultMetrics.EvaluationsDispatched.Inc()
	req.Session = o.cfg.Session

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.evaluate(ev, req)
	}()
	return true
}

// evaluatorLocked lazily creates the evaluator. Callers hold o.mu.
func (o *Orchestrator) evaluatorLocked() (Evaluator, error) {
	if !o.started {
		o.started = true
		if o.cfg.Factory == nil {
			o.initErr = errors.New("no evaluator factory configured")
		} else {
			o.evaluator, o.initErr = o.cfg.Factory()
		}
		if o.initErr != nil {
			o.logger.Error().Err(o.initErr).Msg("Evaluator initialization failed")
		} else {
			o.logger.Info().Msg("Evaluator started on first representative turn")
		}
	}
	return o.evaluator, o.initErr
}

func (o *Orchestrator) evaluate(ev Evaluator, req TurnRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TurnTimeout)
	defer cancel()

	start := time.Now()
	rec, err := ev.EvaluateTurn(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		failure := &EvaluationFailure{
			TurnIndex: req.TurnIndex,
			Reason:    classify(err),
			Err:       err,
		}
		metrics.DefaultMetrics.RecordEvaluation(err, string(failure.Reason), elapsed)
		o.logger.Warn().
			Err(err).
			Int("turnIndex", req.TurnIndex).
			Str("reason", string(failure.Reason)).
			Dur("elapsed", elapsed).
			Msg("Turn evaluation failed")
		o.resolve(req.TurnIndex, nil, failure)
		return
	}

	metrics.DefaultMetrics.RecordEvaluation(nil, "", elapsed)
	o.logger.Info().
		Int("turnIndex", req.TurnIndex).
		Dur("elapsed", elapsed).
		Msg("Turn evaluation completed")
	o.resolve(req.TurnIndex, &rec, nil)
}

func (o *Orchestrator) resolve(turnIndex int, rec *models.EvaluationRecord, failure *EvaluationFailure) {
	o.mu.Lock()
	st := o.turns[turnIndex]
	if st != nil {
		st.done = true
		st.failure = failure
	}
	o.mu.Unlock()

	if o.cfg.OnResult != nil {
		o.cfg.OnResult(rec, failure)
	}
}

// classify maps an evaluator error to a failure reason.
func classify(err error) FailureReason {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, errSchema):
		return ReasonSchema
	default:
		return ReasonTransport
	}
}

// Wait blocks until all in-flight turn evaluations resolve, or until timeout.
// It returns false on timeout; abandoned evaluations keep running and may
// still report through OnResult.
func (o *Orchestrator) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		o.logger.Warn().Dur("timeout", timeout).Msg("Gave up waiting for in-flight evaluations")
		return false
	}
}

// MissingEvaluations lists turn indices, ascending, whose evaluation never
// completed successfully.
func (o *Orchestrator) MissingEvaluations() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	var missing []int
	for idx, st := range o.turns {
		if !st.done || st.failure != nil {
			missing = append(missing, idx)
		}
	}
	sort.Ints(missing)
	return missing
}

// EvaluateSession produces the end-of-session summary from the full ordered
// transcript. Turns whose evaluation never completed are reported in the
// summary's MissingEvaluations. If the representative never spoke, the
// evaluator was never started and there is no summary.
func (o *Orchestrator) EvaluateSession(transcript []models.Turn) (models.SessionSummary, error) {
	o.mu.Lock()
	ev, initErr := o.evaluator, o.initErr
	started := o.started
	o.mu.Unlock()

	if !started {
		return models.SessionSummary{}, ErrNoEvaluations
	}
	if initErr != nil {
		return models.SessionSummary{}, initErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SummaryTimeout)
	defer cancel()

	summary, err := ev.EvaluateSession(ctx, SessionRequest{
		Session:    o.cfg.Session,
		Transcript: transcript,
	})
	if err != nil {
		return models.SessionSummary{}, &EvaluationFailure{
			TurnIndex: -1,
			Reason:    classify(err),
			Err:       err,
		}
	}
	summary.MissingEvaluations = o.MissingEvaluations()
	metrics.DefaultMetrics.SummariesGenerated.Inc()
	return summary, nil
}

// Close waits briefly for in-flight work and releases the evaluator.
func (o *Orchestrator) Close() error {
	o.Wait(o.cfg.TurnTimeout)
	o.mu.Lock()
	ev := o.evaluator
	o.evaluator = nil
	o.mu.Unlock()
	if ev != nil {
		return ev.Close()
	}
	return nil
}
