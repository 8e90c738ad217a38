package types

import "time"

// EvaluationRequest is the SQS payload that asks the evaluator to run a
// rules pass for one lawn. Producers are the ingestion poller (fresh data
// arrived) and the scheduler (time-based trigger); the reason field records
// which.
type EvaluationRequest struct {
	LawnID string `json:"lawn_id"`
	Reason string `json:"reason"`

	// ReferenceTime pins the evaluation instant. Nil means "now" at the
	// consumer; set for backfills and reproductions.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`

	// Observability
	TraceID string `json:"trace_id"`
}

// Evaluation request reasons.
const (
	EvalReasonDataArrival = "data_arrival"
	EvalReasonScheduled   = "scheduled"
	EvalReasonManual      = "manual"
)

// RecommendationEvent is the SQS payload published once an evaluation pass
// produces advice. One event carries the full ordered recommendation set so
// consumers never see a partial pass.
type RecommendationEvent struct {
	EventID     string    `json:"event_id"`
	LawnID      string    `json:"lawn_id"`
	EvaluatedAt time.Time `json:"evaluated_at"`

	Recommendations []Recommendation `json:"recommendations"`

	// Warnings carries non-fatal evaluation diagnostics (e.g. clock skew)
	// as error codes.
	Warnings []string `json:"warnings,omitempty"`

	// Observability
	TraceID string `json:"trace_id"`
}
