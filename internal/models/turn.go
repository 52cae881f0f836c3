package models

// Turn is one complete conversational contribution by a single speaker.
// Immutable once closed by the aggregator. TurnIndex is monotonic and
// contiguous within a session.
type Turn struct {
	TurnIndex   int     `json:"turnIndex"`
	Speaker     Speaker `json:"speaker"`
	Text        string  `json:"text"`
	StartedAt   int64   `json:"startedAt"`
	CompletedAt int64   `json:"completedAt"`
}

// TranscriptEntry is one persisted transcript line. Interim entries are
// individual fragments recorded for debugging; they never become turns.
type TranscriptEntry struct {
	TurnIndex int     `json:"turnIndex,omitempty"`
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
	IsInterim bool    `json:"isInterim,omitempty"`
}
