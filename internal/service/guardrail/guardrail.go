// Package guardrail keeps the customer persona in character. It detects
// off-topic or character-breaking representative turns and decides whether a
// corrective directive should be injected into the persona model's next
// invocation. The check itself is a pure function over in-memory patterns;
// it never mutates conversation context.
package guardrail

import (
	"strings"

	"ai-call-coach-service/internal/models"
	"ai-call-coach-service/internal/prompts"
)

// Action is the verdict outcome.
type Action string

const (
	// ActionAllow - the turn is in character, no side effect.
	ActionAllow Action = "allow"
	// ActionInjectReminder - prepend the reminder directive to the persona
	// model's next invocation.
	ActionInjectReminder Action = "inject_reminder"
)

// DefaultReminder is used when the pattern library has no reminder for the
// active scenario.
const DefaultReminder = "Stay in character! You're in a crisis and need help with your banking issue NOW!"

// Verdict is the filter's decision for one turn. Derived data: it is
// recomputable from the pattern set and the turn text, and is not persisted
// as a first-class entity.
type Verdict struct {
	TurnIndex      int    `json:"turnIndex"`
	MatchedPattern string `json:"matchedPattern,omitempty"`
	Action         Action `json:"action"`
	Reminder       string `json:"reminder,omitempty"`
}

// Matcher decides whether a message is off-topic. Substring matching is the
// baseline; a stronger classifier can be substituted without changing the
// filter contract.
type Matcher interface {
	// Match returns the matched off-topic pattern, or "" when the message is
	// allowed.
	Match(text string, set prompts.GuardrailContent) string
}

// SubstringMatcher is case-insensitive keyword matching. A banking-context
// keyword makes a message on-topic even when an off-topic pattern matches.
// False positives like "whether" containing "weather" are an accepted
// limitation of this matcher, not something to paper over with heuristics.
type SubstringMatcher struct{}

// Match implements Matcher.
func (SubstringMatcher) Match(text string, set prompts.GuardrailContent) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, keyword := range set.BankingKeywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return ""
		}
	}
	for _, pattern := range set.OffTopic {
		if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
			return pattern
		}
	}
	return ""
}

// Filter checks completed representative turns against a versioned,
// scenario-scoped pattern set.
type Filter struct {
	matcher  Matcher
	set      prompts.GuardrailContent
	scenario string
}

// New creates a filter with the baseline substring matcher.
func New(set prompts.GuardrailContent, scenario string) *Filter {
	return NewWithMatcher(SubstringMatcher{}, set, scenario)
}

// NewWithMatcher creates a filter with a custom matcher implementation.
func NewWithMatcher(m Matcher, set prompts.GuardrailContent, scenario string) *Filter {
	return &Filter{matcher: m, set: set, scenario: scenario}
}

// Version returns the loaded pattern library version.
func (f *Filter) Version() string {
	return f.set.Version
}

// Check evaluates a completed turn. Pure: identical turn text and pattern set
// always yield an identical verdict, and the turn is never mutated.
func (f *Filter) Check(turn models.Turn) Verdict {
	matched := f.matcher.Match(turn.Text, f.set)
	if matched == "" {
		return Verdict{TurnIndex: turn.TurnIndex, Action: ActionAllow}
	}
	reminder, ok := f.set.Reminders[f.scenario]
	if !ok || reminder == "" {
		reminder = DefaultReminder
	}
	return Verdict{
		TurnIndex:      turn.TurnIndex,
		MatchedPattern: matched,
		Action:         ActionInjectReminder,
		Reminder:       reminder,
	}
}
