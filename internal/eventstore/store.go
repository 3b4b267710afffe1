package eventstore

import (
	"context"
	"time"
)

// Store defines the interface for persisting and retrieving events.
type Store interface {
	// Append adds a new event to the store.
	Append(ctx context.Context, e Event) error

	// GetByRunID retrieves all events of a build run in insertion order.
	GetByRunID(ctx context.Context, runID string) ([]Event, error)

	// GetRange retrieves events within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// LatestRunID returns the run id of the most recent event, or "" when
	// the store is empty.
	LatestRunID(ctx context.Context) (string, error)

	// Close closes the store and releases resources.
	Close() error
}
