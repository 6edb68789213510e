package domain

// OutcomeKind is how a session ended.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeClosed    OutcomeKind = "closed"
)

// Outcome is the terminal result reported to the caller. Reason is set only for failed.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// Failure reasons shown to the user.
const (
	ReasonDeclined = "The payment was declined by your bank."
	ReasonTimeout  = "The approval request timed out. Please try again."
)
