// Package eventstore keeps an append-only history of build runs.
//
// Every status transition of a package during a run is stored as an event.
// Projections rebuild run summaries from the stored events.
package eventstore

import "time"

// Event types.
const (
	TypeRunStarted    = "RunStarted"
	TypeStatusChanged = "StatusChanged"
	TypeCacheHit      = "CacheHit"
	TypeSkipped       = "Skipped"
	TypeRunCompleted  = "RunCompleted"
)

// Event represents one entry of the build history.
type Event interface {
	// ID returns the unique identifier assigned by the store.
	ID() int64
	// RunID returns the build run this event belongs to.
	RunID() string
	// Package returns the package id the event concerns, if any.
	Package() string
	// Type returns the event type name.
	Type() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
	// Payload returns the event data as JSON.
	Payload() []byte
}

// BaseEvent provides a default implementation of Event.
type BaseEvent struct {
	EventID        int64
	EventRunID     string
	EventPackage   string
	EventType      string
	EventTimestamp time.Time
	EventPayload   []byte
}

func (e *BaseEvent) ID() int64            { return e.EventID }
func (e *BaseEvent) RunID() string        { return e.EventRunID }
func (e *BaseEvent) Package() string      { return e.EventPackage }
func (e *BaseEvent) Type() string         { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTimestamp }
func (e *BaseEvent) Payload() []byte      { return e.EventPayload }
