package models

import "fmt"

// Compliance is the coach's compliance check outcome for a turn.
type Compliance string

const (
	CompliancePass    Compliance = "pass"
	ComplianceWarning Compliance = "warning"
	ComplianceFail    Compliance = "fail"
)

// Valid returns true for a known compliance value.
func (c Compliance) Valid() bool {
	return c == CompliancePass || c == ComplianceWarning || c == ComplianceFail
}

// Urgency reflects the customer's emotional state as judged by the coach.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Valid returns true for a known urgency value.
func (u Urgency) Valid() bool {
	return u == UrgencyLow || u == UrgencyMedium || u == UrgencyHigh
}

// EvaluationRecord is the coach's structured score for one representative
// turn. At most one record exists per turn index; a retry overwrites, never
// duplicates.
type EvaluationRecord struct {
	TurnIndex  int            `json:"turnIndex"`
	Scores     map[string]int `json:"scores"`
	Strengths  []string       `json:"strengths"`
	Concerns   []string       `json:"concerns"`
	Compliance Compliance     `json:"compliance"`
	Urgency    Urgency        `json:"urgency"`
	Guidance   string         `json:"guidance"`
}

// Validate checks the record against the rubric contract: every score within
// 0..10 and both enums known. A record that fails here is an evaluation
// failure, not a partial result.
func (r *EvaluationRecord) Validate() error {
	if len(r.Scores) == 0 {
		return fmt.Errorf("evaluation record has no scores")
	}
	for criterion, score := range r.Scores {
		if score < 0 || score > 10 {
			return fmt.Errorf("score for %q out of range: %d", criterion, score)
		}
	}
	if !r.Compliance.Valid() {
		return fmt.Errorf("unknown compliance value %q", r.Compliance)
	}
	if !r.Urgency.Valid() {
		return fmt.Errorf("unknown urgency value %q", r.Urgency)
	}
	return nil
}

// Citation is an exact quoted representative statement with its turn index,
// used by the session summary for best-moment and missed-opportunity calls.
type Citation struct {
	TurnIndex int    `json:"turnIndex"`
	Quote     string `json:"quote"`
}

// SessionSummary is the coach's end-of-session assessment.
type SessionSummary struct {
	OverallScore       int            `json:"overallScore"`
	CategoryScores     map[string]int `json:"categoryScores"`
	BestMoment         Citation       `json:"bestMoment"`
	MissedOpportunity  Citation       `json:"missedOpportunity"`
	Improvements       []string       `json:"improvements"`
	MissingEvaluations []int          `json:"missingEvaluations,omitempty"`
}

// Validate checks summary scores against the 0..10 rubric range.
func (s *SessionSummary) Validate() error {
	if s.OverallScore < 0 || s.OverallScore > 10 {
		return fmt.Errorf("overall score out of range: %d", s.OverallScore)
	}
	for category, score := range s.CategoryScores {
		if score < 0 || score > 10 {
			return fmt.Errorf("category score for %q out of range: %d", category, score)
		}
	}
	return nil
}
