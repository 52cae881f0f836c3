// Package turn reassembles fragmented transcription events into complete,
// ordered conversational turns.
package turn

import (
	"fmt"
	"strings"
	"time"

	"ai-call-coach-service/internal/models"
)

// State represents the lifecycle state of one speaker's turn buffer.
type State int

const (
	// StateEmpty - no fragments buffered.
	StateEmpty State = iota
	// StateAccumulating - fragments buffered, most recent was not finalized.
	StateAccumulating
	// StateFinalPending - most recent fragment was finalized; more fragments
	// may still belong to this turn, or the idle timeout may close it.
	StateFinalPending
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateAccumulating:
		return "ACCUMULATING"
	case StateFinalPending:
		return "FINAL_PENDING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// buffer accumulates one speaker's fragments for the turn currently being
// spoken. A buffer is owned by a single session's aggregator and is not
// shared across goroutines.
type buffer struct {
	speaker   models.Speaker
	state     State
	fragments []string
	startedAt int64
	lastAt    int64
	lastWall  time.Time
}

// add appends a fragment and advances the state machine.
//
//	EMPTY ──fragment──→ ACCUMULATING ──is_final──→ FINAL_PENDING
//	                         ↑                          │
//	                         └──────── fragment ────────┘
//
// A finalized fragment does not close the turn: recognizers emit several
// "final" sub-utterances for what a human treats as one turn.
func (b *buffer) add(text string, isFinal bool, at int64, wall time.Time) {
	if b.state == StateEmpty {
		b.startedAt = at
	}
	b.fragments = append(b.fragments, text)
	b.lastAt = at
	b.lastWall = wall
	if isFinal {
		b.state = StateFinalPending
	} else {
		b.state = StateAccumulating
	}
}

// idleExpired reports whether the buffer is closable by idle timeout: only a
// buffer whose most recent fragment was finalized goes idle.
func (b *buffer) idleExpired(now time.Time, timeout time.Duration) bool {
	return b.state == StateFinalPending && now.Sub(b.lastWall) >= timeout
}

// text joins the buffered fragments in arrival order with single spaces,
// collapsing any redundant whitespace.
func (b *buffer) text() string {
	return strings.Join(strings.Fields(strings.Join(b.fragments, " ")), " ")
}

// reset returns the buffer to EMPTY for the speaker's next turn.
func (b *buffer) reset() {
	b.state = StateEmpty
	b.fragments = b.fragments[:0]
	b.startedAt = 0
	b.lastAt = 0
	b.lastWall = time.Time{}
}
