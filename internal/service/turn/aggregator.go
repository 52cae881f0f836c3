package turn

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-call-coach-service/internal/models"
	"ai-call-coach-service/internal/observability/metrics"
)

// Errors for dropped events. Dropping is never fatal: a malformed event must
// not kill the live call.
var (
	ErrUnknownSpeaker = errors.New("unknown speaker")
	ErrStaleTimestamp = errors.New("non-monotonic timestamp")
)

// DefaultIdleTimeout closes a finalized-but-unswitched turn when the speaker
// goes quiet.
const DefaultIdleTimeout = 2 * time.Second

// Config holds aggregator settings.
type Config struct {
	SessionID   string
	IdleTimeout time.Duration
}

// Aggregator consumes partial and final transcription events plus
// generation-completion signals and produces complete, ordered turns.
//
// It maintains one open buffer per speaker. A finalization flag alone never
// closes a turn; a turn closes when (a) the other speaker starts producing
// fragments, (b) an explicit generation-completion signal arrives for the
// buffering speaker, or (c) the idle timeout elapses after a finalized
// fragment. Turn indices are strictly increasing and contiguous; a turn with
// empty text is discarded without consuming an index.
//
// The aggregator is owned by a single session's event loop and performs no
// blocking work.
type Aggregator struct {
	logger      zerolog.Logger
	idleTimeout time.Duration
	nextIndex   int
	buffers     map[models.Speaker]*buffer
	lastSeen    map[models.Speaker]int64
	now         func() time.Time
}

// NewAggregator creates an aggregator for one session.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Aggregator{
		logger:      log.With().Str("component", "aggregator").Str("sessionId", cfg.SessionID).Logger(),
		idleTimeout: cfg.IdleTimeout,
		buffers: map[models.Speaker]*buffer{
			models.SpeakerCustomer:       {speaker: models.SpeakerCustomer},
			models.SpeakerRepresentative: {speaker: models.SpeakerRepresentative},
		},
		lastSeen: make(map[models.Speaker]int64),
		now:      time.Now,
	}
}

// NextIndex returns the index the next emitted turn will carry.
func (a *Aggregator) NextIndex() int {
	return a.nextIndex
}

// Ingest consumes one transcription event and returns the closed turn it
// triggered, if any. A fragment from one speaker closes the other speaker's
// open buffer (speaker switch); the fragment itself is then buffered for its
// own speaker — whoever's fragment triggered the event owns that fragment.
//
// Malformed events are dropped with an error the caller should log; Ingest
// never fails fatally.
func (a *Aggregator) Ingest(ev models.TranscriptionEvent) (*models.Turn, error) {
	if !ev.Speaker.Valid() {
		a.logger.Warn().Str("speaker", string(ev.Speaker)).Msg("Dropping event from unknown speaker")
		return nil, ErrUnknownSpeaker
	}
	if last, ok := a.lastSeen[ev.Speaker]; ok && ev.Timestamp < last {
		a.logger.Warn().
			Str("speaker", string(ev.Speaker)).
			Int64("timestamp", ev.Timestamp).
			Int64("lastSeen", last).
			Msg("Dropping event with non-monotonic timestamp")
		return nil, ErrStaleTimestamp
	}
	a.lastSeen[ev.Speaker] = ev.Timestamp

	if ev.Text == "" {
		return nil, nil
	}

	var closed *models.Turn
	other := a.buffers[ev.Speaker.Other()]
	if other.state != StateEmpty {
		closed = a.close(other, ev.Timestamp)
	}

	a.buffers[ev.Speaker].add(ev.Text, ev.IsFinal, ev.Timestamp, a.now())
	return closed, nil
}

// CompleteGeneration signals that the speaker finished producing its turn
// (the persona model's generation-completion event). Closes that speaker's
// buffer if it holds anything.
func (a *Aggregator) CompleteGeneration(speaker models.Speaker, at int64) *models.Turn {
	if !speaker.Valid() {
		a.logger.Warn().Str("speaker", string(speaker)).Msg("Dropping completion for unknown speaker")
		return nil
	}
	b := a.buffers[speaker]
	if b.state == StateEmpty {
		return nil
	}
	return a.close(b, at)
}

// Tick sweeps for idle-expired buffers. Driven by the session loop's ticker
// so the aggregator itself never suspends.
func (a *Aggregator) Tick(now time.Time) []models.Turn {
	var out []models.Turn
	for _, speaker := range []models.Speaker{models.SpeakerCustomer, models.SpeakerRepresentative} {
		b := a.buffers[speaker]
		if b.idleExpired(now, a.idleTimeout) {
			if t := a.close(b, b.lastAt); t != nil {
				out = append(out, *t)
			}
		}
	}
	return out
}

// Flush closes whatever is still buffered, in start order. Called at session
// end so a trailing turn is not lost.
func (a *Aggregator) Flush() []models.Turn {
	var open []*buffer
	for _, b := range a.buffers {
		if b.state != StateEmpty {
			open = append(open, b)
		}
	}
	if len(open) == 2 && open[0].startedAt > open[1].startedAt {
		open[0], open[1] = open[1], open[0]
	}
	var out []models.Turn
	for _, b := range open {
		if t := a.close(b, b.lastAt); t != nil {
			out = append(out, *t)
		}
	}
	return out
}

// close emits the buffered turn and resets the buffer. Empty text after
// normalization is discarded, not emitted.
func (a *Aggregator) close(b *buffer, completedAt int64) *models.Turn {
	text := b.text()
	startedAt := b.startedAt
	fragments := len(b.fragments)
	b.reset()

	if text == "" {
		metrics.DefaultMetrics.TurnsDiscarded.Inc()
		a.logger.Debug().Str("speaker", string(b.speaker)).Msg("Discarding empty turn")
		return nil
	}

	t := &models.Turn{
		TurnIndex:   a.nextIndex,
		Speaker:     b.speaker,
		Text:        text,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
	a.nextIndex++

	a.logger.Debug().
		Int("turnIndex", t.TurnIndex).
		Str("speaker", string(t.Speaker)).
		Int("fragments", fragments).
		Msg("Turn closed")
	return t
}
