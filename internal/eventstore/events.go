package eventstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStartedPayload describes the start of a build run.
type RunStartedPayload struct {
	Root     string `json:"root"`
	Packages int    `json:"packages"`
	Workers  int    `json:"workers"`
}

// StatusChangedPayload describes a package status transition.
type StatusChangedPayload struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Fingerprint string `json:"fingerprint,omitempty"`
	ExitCode    int    `json:"exit_code,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SkippedPayload names the dependency whose failure caused a skip.
type SkippedPayload struct {
	Dependency string `json:"dependency"`
}

// RunCompletedPayload carries the counts of a finished run.
type RunCompletedPayload struct {
	Built      int   `json:"built"`
	Cached     int   `json:"cached"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

func newEvent(runID, pkg, eventType string, payload any) (*BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &BaseEvent{
		EventRunID:     runID,
		EventPackage:   pkg,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   data,
	}, nil
}

// NewRunStarted creates a RunStarted event.
func NewRunStarted(runID string, p RunStartedPayload) (*BaseEvent, error) {
	return newEvent(runID, "", TypeRunStarted, p)
}

// NewStatusChanged creates a StatusChanged event for pkg.
func NewStatusChanged(runID, pkg string, p StatusChangedPayload) (*BaseEvent, error) {
	return newEvent(runID, pkg, TypeStatusChanged, p)
}

// NewCacheHit creates a CacheHit event for pkg.
func NewCacheHit(runID, pkg, fingerprint string) (*BaseEvent, error) {
	return newEvent(runID, pkg, TypeCacheHit, map[string]string{"fingerprint": fingerprint})
}

// NewSkipped creates a Skipped event for pkg.
func NewSkipped(runID, pkg, dependency string) (*BaseEvent, error) {
	return newEvent(runID, pkg, TypeSkipped, SkippedPayload{Dependency: dependency})
}

// NewRunCompleted creates a RunCompleted event.
func NewRunCompleted(runID string, p RunCompletedPayload) (*BaseEvent, error) {
	return newEvent(runID, "", TypeRunCompleted, p)
}
