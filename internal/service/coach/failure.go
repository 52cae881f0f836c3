package coach

import "fmt"

// FailureReason classifies why an evaluation failed.
type FailureReason string

const (
	// ReasonTimeout - the evaluator call exceeded its deadline.
	ReasonTimeout FailureReason = "timeout"
	// ReasonTransport - the evaluator call failed in transit.
	ReasonTransport FailureReason = "transport"
	// ReasonSchema - the response did not conform to the rubric schema.
	ReasonSchema FailureReason = "schema"
	// ReasonUnavailable - the evaluator could not be initialized.
	ReasonUnavailable FailureReason = "unavailable"
)

// EvaluationFailure is the non-fatal outcome of a failed evaluation. It is
// logged and surfaced as a missing evaluation; the conversation continues.
type EvaluationFailure struct {
	TurnIndex int
	Reason    FailureReason
	Err       error
}

// Error implements error.
func (f *EvaluationFailure) Error() string {
	return fmt.Sprintf("evaluation failed for turn %d (%s): %v", f.TurnIndex, f.Reason, f.Err)
}

// Unwrap returns the underlying cause.
func (f *EvaluationFailure) Unwrap() error {
	return f.Err
}
