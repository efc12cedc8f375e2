package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutcomeKind classifies the terminal result of an execution request
type OutcomeKind string

const (
	OutcomeImmediate OutcomeKind = "immediate"
	OutcomeDegraded  OutcomeKind = "degraded"
	OutcomeDeferred  OutcomeKind = "deferred"
	OutcomeFailed    OutcomeKind = "failed"
)

// ErrorKind classifies a failed outcome
type ErrorKind string

const (
	ErrKindUnknownServiceType    ErrorKind = "unknown_service_type"
	ErrKindPrimaryCallError      ErrorKind = "primary_call_error"
	ErrKindAllFallbacksExhausted ErrorKind = "all_fallbacks_exhausted"
	ErrKindCancelled             ErrorKind = "cancelled"
	ErrKindInternal              ErrorKind = "internal"
)

// FallbackResult is the product of a fallback strategy. Degraded is always
// true; it must propagate to the final response envelope.
type FallbackResult struct {
	Payload   json.RawMessage    `json:"payload"`
	Degraded  bool               `json:"degraded"`
	Strategy  FallbackStrategyID `json:"strategy"`
	FromCache bool               `json:"from_cache"`
}

// ExecutionOutcome is the uniform envelope returned for every execution
// request. Exactly one kind is ever returned per request.
type ExecutionOutcome struct {
	Kind                OutcomeKind        `json:"kind"`
	Result              json.RawMessage    `json:"result,omitempty"`
	Degraded            bool               `json:"degraded"`
	FallbackType        FallbackStrategyID `json:"fallback_type,omitempty"`
	TaskID              *uuid.UUID         `json:"task_id,omitempty"`
	EstimatedCompletion *time.Time         `json:"estimated_completion,omitempty"`
	ErrorKind           ErrorKind          `json:"error_kind,omitempty"`
	ErrorMessage        string             `json:"error_message,omitempty"`
}

// ImmediateOutcome builds an outcome for a primary result
func ImmediateOutcome(result json.RawMessage) ExecutionOutcome {
	return ExecutionOutcome{
		Kind:   OutcomeImmediate,
		Result: result,
	}
}

// DegradedOutcome builds an outcome for a fallback result
func DegradedOutcome(fb FallbackResult) ExecutionOutcome {
	return ExecutionOutcome{
		Kind:         OutcomeDegraded,
		Result:       fb.Payload,
		Degraded:     true,
		FallbackType: fb.Strategy,
	}
}

// DeferredOutcome builds an outcome for a task handed to the async queue
func DeferredOutcome(taskID uuid.UUID, estimatedCompletion time.Time) ExecutionOutcome {
	return ExecutionOutcome{
		Kind:                OutcomeDeferred,
		TaskID:              &taskID,
		EstimatedCompletion: &estimatedCompletion,
	}
}

// FailedOutcome builds an outcome for an unrecoverable error
func FailedOutcome(kind ErrorKind, message string) ExecutionOutcome {
	return ExecutionOutcome{
		Kind:         OutcomeFailed,
		ErrorKind:    kind,
		ErrorMessage: message,
	}
}
