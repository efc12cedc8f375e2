package models

import (
	"time"

	"github.com/google/uuid"
)

// UserImpact describes how a timeout affected the caller
type UserImpact string

const (
	ImpactNone     UserImpact = "none"
	ImpactDegraded UserImpact = "degraded"
	ImpactFailed   UserImpact = "failed"
)

// TimeoutThreshold names which limit was crossed
type TimeoutThreshold string

const (
	ThresholdSoft TimeoutThreshold = "soft"
	ThresholdHard TimeoutThreshold = "hard"
)

// TimeoutEvent is an immutable fact recorded when a call fails to complete
// within one of its limits. Events are append-only and retained for a
// configurable analytics window.
type TimeoutEvent struct {
	EventID            uuid.UUID          `json:"event_id"`
	ServiceType        string             `json:"service_type"`
	RequestID          uuid.UUID          `json:"request_id"`
	Threshold          TimeoutThreshold   `json:"threshold"`
	TimeoutLimit       time.Duration      `json:"timeout_limit"`
	ActualDuration     *time.Duration     `json:"actual_duration,omitempty"`
	SystemLoadSnapshot int                `json:"system_load_snapshot"`
	FallbackUsed       bool               `json:"fallback_used"`
	FallbackType       FallbackStrategyID `json:"fallback_type,omitempty"`
	UserImpact         UserImpact         `json:"user_impact"`
	Timestamp          time.Time          `json:"timestamp"`
}

// NewTimeoutEvent creates an event for a threshold crossing
func NewTimeoutEvent(req ExecutionRequest, threshold TimeoutThreshold, limit time.Duration, impact UserImpact) TimeoutEvent {
	return TimeoutEvent{
		EventID:      NewID(),
		ServiceType:  req.ServiceType,
		RequestID:    req.RequestID,
		Threshold:    threshold,
		TimeoutLimit: limit,
		UserImpact:   impact,
		Timestamp:    time.Now(),
	}
}
