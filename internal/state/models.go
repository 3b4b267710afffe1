package state

import (
	"time"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
)

// Status is the lifecycle state of a package build.
type Status string

const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// IsTerminal reports whether no further transition happens without a new
// build request.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusBuilding, StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

// BuildRecord is the persisted outcome of the latest build of a package.
type BuildRecord struct {
	PackageID   descriptor.PackageID `json:"package_id"`
	Fingerprint string               `json:"fingerprint"`
	Status      Status               `json:"status"`
	Timestamp   time.Time            `json:"timestamp"`
	ExitCode    int                  `json:"exit_code"`
	RunID       string               `json:"run_id,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Fresh reports whether the record is a successful build of fingerprint.
func (r *BuildRecord) Fresh(fingerprint string) bool {
	return r != nil && r.Status == StatusSuccess && r.Fingerprint == fingerprint
}

// replaceableByPending reports whether a queued build of fingerprint may
// overwrite r.
func (r *BuildRecord) replaceableByPending(fingerprint string) bool {
	return r.Status != StatusBuilding && !r.Fresh(fingerprint)
}
