package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNoRuns is returned when the history holds no runs.
var ErrNoRuns = errors.New("no build runs recorded")

const (
	runStatusRunning   = "running"
	runStatusCompleted = "completed"
	runStatusFailed    = "failed"
)

// RunSummary is a read model of one build run.
type RunSummary struct {
	RunID       string            `json:"run_id"`
	Root        string            `json:"root"`
	Status      string            `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Duration    time.Duration     `json:"duration,omitempty"`
	Built       int               `json:"built"`
	Cached      int               `json:"cached"`
	Failed      int               `json:"failed"`
	Skipped     int               `json:"skipped"`
	Packages    map[string]string `json:"packages"`
}

// Summarize folds the events of a single run into a RunSummary.
func Summarize(events []Event) *RunSummary {
	if len(events) == 0 {
		return nil
	}
	s := &RunSummary{
		RunID:     events[0].RunID(),
		Status:    runStatusRunning,
		StartedAt: events[0].Timestamp(),
		Packages:  make(map[string]string),
	}
	for _, e := range events {
		apply(s, e)
	}
	return s
}

func apply(s *RunSummary, e Event) {
	switch e.Type() {
	case TypeRunStarted:
		s.StartedAt = e.Timestamp()
		var p RunStartedPayload
		if err := json.Unmarshal(e.Payload(), &p); err == nil {
			s.Root = p.Root
		}

	case TypeStatusChanged:
		var p StatusChangedPayload
		if err := json.Unmarshal(e.Payload(), &p); err == nil {
			s.Packages[e.Package()] = p.To
		}

	case TypeCacheHit:
		s.Packages[e.Package()] = "cached"

	case TypeSkipped:
		s.Packages[e.Package()] = "skipped"

	case TypeRunCompleted:
		now := e.Timestamp()
		s.CompletedAt = &now
		s.Duration = now.Sub(s.StartedAt)
		var p RunCompletedPayload
		if err := json.Unmarshal(e.Payload(), &p); err == nil {
			s.Built, s.Cached, s.Failed, s.Skipped = p.Built, p.Cached, p.Failed, p.Skipped
		}
		s.Status = runStatusCompleted
		if s.Failed > 0 || s.Skipped > 0 {
			s.Status = runStatusFailed
		}
	}
}

// LatestRun summarizes the most recent run in store.
func LatestRun(ctx context.Context, store Store) (*RunSummary, error) {
	runID, err := store.LatestRunID(ctx)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return nil, ErrNoRuns
	}
	events, err := store.GetByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	return Summarize(events), nil
}
