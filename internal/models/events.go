// Package models defines the data structures for session events, turns and
// coach evaluations.
package models

// Speaker identifies one of the two conversation participants.
type Speaker string

const (
	// SpeakerCustomer - the persona model playing the customer.
	SpeakerCustomer Speaker = "customer"
	// SpeakerRepresentative - the human trainee being coached.
	SpeakerRepresentative Speaker = "representative"
)

// Valid returns true for the two known speakers.
func (s Speaker) Valid() bool {
	return s == SpeakerCustomer || s == SpeakerRepresentative
}

// Other returns the opposite speaker.
func (s Speaker) Other() Speaker {
	if s == SpeakerCustomer {
		return SpeakerRepresentative
	}
	return SpeakerCustomer
}

// Event types carried in the SessionEvent envelope.
const (
	EventTranscription      = "session.transcription"
	EventGenerationComplete = "session.generation.complete"
	EventSessionStart       = "session.start"
	EventSessionEnd         = "session.end"
)

// SessionEvent is the envelope for everything the voice client sends over the
// session socket. Type selects which fields are meaningful.
type SessionEvent struct {
	EventType string  `json:"eventType"`
	SessionID string  `json:"sessionId,omitempty"`
	Scenario  string  `json:"scenario,omitempty"`
	Speaker   Speaker `json:"speaker,omitempty"`
	Text      string  `json:"text,omitempty"`
	IsFinal   bool    `json:"isFinal,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// TranscriptionEvent is one recognized speech fragment. Fragments for one
// speaker arrive in order but may be split arbitrarily by the recognizer;
// IsFinal marks the last fragment of a recognized segment, not the end of a
// conversational turn.
type TranscriptionEvent struct {
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	IsFinal   bool    `json:"isFinal"`
	Timestamp int64   `json:"timestamp"`
}

// PersonaUtterance is what the server pushes back to the voice client when
// the customer persona produces its next line.
type PersonaUtterance struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// EventPersonaUtterance is the outbound event type for PersonaUtterance.
const EventPersonaUtterance = "session.persona.utterance"
