package storage

import "time"

// EventWriter is the interface for writing evaluation events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *EvaluationEvent)
	Close()
}

// EvaluationEvent is one persisted (session, policy) evaluation outcome.
type EvaluationEvent struct {
	EvaluationID string
	JobID        string
	ProjectID    string
	SessionID    string
	Timestamp    time.Time

	PolicyID      string
	PolicyName    string
	Severity      string
	IsCompliant   bool
	ViolationType string

	// Check-result partition counts.
	TriggeredChecks         int32
	FailedTriggers          int32
	PassedRequirements      int32
	FailedRequirements      int32
	ForbiddenChecks         int32
	ForbiddenChecksAvoided  int32
	UnevaluatedRequirements int32

	// LLM accounting for the evaluation.
	LLMProvider     string
	LLMModel        string
	LLMAPICalls     int32
	LLMInputTokens  int64
	LLMOutputTokens int64
	LLMCostUSD      float64

	LatencyMs float32
}
