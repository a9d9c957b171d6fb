// Package model contains domain models passed between layers.
package model

import "time"

// Event is an append-only record of a user action submitted by a producer.
// Processed and Result are written only by the evaluation engine.
type Event struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	Name            string         `json:"name"`
	Timestamp       time.Time      `json:"timestamp"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Processed       bool           `json:"processed"`
	ProcessingError string         `json:"processingError,omitempty"`
	Result          *EventResult   `json:"result,omitempty"`
}

// EventResult is the outcome stored on a processed event.
type EventResult struct {
	XPGained int64    `json:"xpGained"`
	Unlocked []string `json:"unlocked"`
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	out := e
	out.Metadata = CloneMap(e.Metadata)
	if e.Result != nil {
		r := *e.Result
		r.Unlocked = append([]string(nil), e.Result.Unlocked...)
		out.Result = &r
	}
	return out
}

// CloneMap deep-copies JSON-shaped metadata: nested maps and slices are
// copied, scalars are shared.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Submission is an event as sent by a producer. ID and Timestamp are
// optional and filled in on intake.
type Submission struct {
	ID        string         `json:"id,omitempty"`
	UserID    string         `json:"userId"`
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}
