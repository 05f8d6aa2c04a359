package domain

import (
	"time"

	"github.com/mrz1836/formic/internal/constants"
)

// LogMessage is the event pushed to a task's subscribers.
//
// Stream events carry one output line in Data. Terminal events (exit, error)
// carry the exit description. Iteration events carry loop progress.
type LogMessage struct {
	Type      constants.LogType `json:"type"`
	Data      string            `json:"data"`
	Timestamp string            `json:"timestamp"`

	// Optional fields set on iteration and status events.
	Iteration     int    `json:"iteration,omitempty"`
	MaxIterations int    `json:"maxIterations,omitempty"`
	Percentage    int    `json:"percentage,omitempty"`
	LimitReached  bool   `json:"limitReached,omitempty"`
	Status        string `json:"status,omitempty"`
	RunID         string `json:"runId,omitempty"`
}

// NewLogMessage builds an event stamped with an ISO-8601 UTC timestamp.
func NewLogMessage(typ constants.LogType, data string, at time.Time) LogMessage {
	return LogMessage{
		Type:      typ,
		Data:      data,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}
